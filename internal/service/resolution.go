package service

import (
	"strings"

	"stakedao/internal/config"
	"stakedao/internal/model"

	"github.com/shopspring/decimal"
)

// ResolutionPolicy 投票截止后决定提案结果，返回 PASSED 或 REJECTED
type ResolutionPolicy func(p *model.DAOProposal) string

// SimpleMajority 赞成票多于反对票即通过，没有法定票数要求
func SimpleMajority(p *model.DAOProposal) string {
	if p.ForVotes > p.AgainstVotes {
		return model.ProposalStatusPassed
	}
	return model.ProposalStatusRejected
}

// ThresholdPolicy 按提案类型配置的法定票数和通过比例判定
//
// 通过条件：总票数 >= quorum_votes，赞成票 > 反对票，且赞成票占比 >= approval_threshold。
// 没有配置的类型按 SimpleMajority 判定
func ThresholdPolicy(policies map[string]config.PolicyConfig) ResolutionPolicy {
	normalized := make(map[string]config.PolicyConfig, len(policies))
	for name, p := range policies {
		normalized[strings.ToUpper(name)] = p
	}

	return func(p *model.DAOProposal) string {
		policy, ok := normalized[p.ProposalType]
		if !ok {
			return SimpleMajority(p)
		}

		total := p.TotalVotes()
		if total == 0 || total < policy.QuorumVotes || p.ForVotes <= p.AgainstVotes {
			return model.ProposalStatusRejected
		}

		ratio := decimal.NewFromInt(p.ForVotes).Div(decimal.NewFromInt(total))
		if ratio.GreaterThanOrEqual(policy.ApprovalThreshold) {
			return model.ProposalStatusPassed
		}
		return model.ProposalStatusRejected
	}
}

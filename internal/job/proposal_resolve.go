package job

import (
	"context"

	"stakedao/internal/service"

	"go.uber.org/zap"
)

// ProposalResolveJob 结算投票已截止的提案
type ProposalResolveJob struct {
	proposalSvc *service.ProposalService
	batchSize   int
}

func NewProposalResolveJob(proposalSvc *service.ProposalService, batchSize int) *ProposalResolveJob {
	return &ProposalResolveJob{proposalSvc: proposalSvc, batchSize: batchSize}
}

func (j *ProposalResolveJob) Name() string {
	return "proposal_resolve"
}

func (j *ProposalResolveJob) Execute(ctx context.Context) error {
	resolved, err := j.proposalSvc.ResolveExpired(ctx, j.batchSize)
	if err != nil {
		return err
	}
	if resolved > 0 {
		zap.L().Info("[ProposalResolveJob] 提案结算完成", zap.Int("resolved", resolved))
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stakedao/internal/clock"
	"stakedao/internal/config"
	"stakedao/internal/infrastructure/database"
	"stakedao/internal/infrastructure/metrics"
	"stakedao/internal/model"
	"stakedao/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProposalService 提案的创建、查询和投票结算
type ProposalService struct {
	txRunner     *database.TxRunner
	clock        clock.Clock
	cfg          *config.Config
	proposalRepo *repository.ProposalRepository
	stakingRepo  *repository.StakingRepository
	events       eventWriter
	policy       ResolutionPolicy
}

func NewProposalService(db *gorm.DB, cfg *config.Config, clk clock.Clock) *ProposalService {
	return &ProposalService{
		txRunner:     database.NewTxRunner(db, cfg.Retry),
		clock:        clk,
		cfg:          cfg,
		proposalRepo: repository.NewProposalRepository(db),
		stakingRepo:  repository.NewStakingRepository(db),
		events:       eventWriter{outboxRepo: repository.NewOutboxRepository(db)},
		policy:       ThresholdPolicy(cfg.Governance.Policies),
	}
}

// WithPolicy 替换投票结算规则
func (s *ProposalService) WithPolicy(policy ResolutionPolicy) *ProposalService {
	s.policy = policy
	return s
}

type CreateProposalRequest struct {
	Title         string           `json:"title" binding:"required,max=200"`
	Description   string           `json:"description"`
	ProposalType  string           `json:"proposal_type" binding:"required"`
	TargetAmount  *decimal.Decimal `json:"target_amount"`
	ExecutionTime time.Time        `json:"execution_time" binding:"required"`
}

type ListProposalRequest struct {
	Status       string `form:"status"`
	ProposalType string `form:"proposal_type"`
	Page         int    `form:"page"`
	PageSize     int    `form:"page_size"`
}

// Create 创建提案，创建人质押数量需达到 min_proposal_stake
func (s *ProposalService) Create(ctx context.Context, creatorID int64, req *CreateProposalRequest) (*model.DAOProposal, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.Business.OpTimeout)
	defer cancel()

	now := s.clock.Now()
	votingDeadline := now.Add(s.cfg.Governance.VotingPeriod)

	proposalType := strings.ToUpper(strings.TrimSpace(req.ProposalType))
	if err := validateProposal(req, proposalType, votingDeadline); err != nil {
		return nil, err
	}

	account, err := s.stakingRepo.GetByUserID(ctx, creatorID)
	if err != nil {
		if errors.Is(err, repository.ErrStakingAccountNotFound) {
			return nil, newError(KindInsufficientStake, fmt.Sprintf("创建提案至少需要质押 %s", s.cfg.Staking.MinProposalStake))
		}
		return nil, translateError(fmt.Errorf("查询质押账户失败: %w", err))
	}
	if account.StakedAmount.LessThan(s.cfg.Staking.MinProposalStake) {
		return nil, newError(KindInsufficientStake, fmt.Sprintf("创建提案至少需要质押 %s", s.cfg.Staking.MinProposalStake))
	}

	proposal := &model.DAOProposal{
		Title:          strings.TrimSpace(req.Title),
		Description:    req.Description,
		ProposalType:   proposalType,
		CreatorID:      creatorID,
		VotingDeadline: votingDeadline,
		ExecutionTime:  req.ExecutionTime.UTC(),
		Status:         model.ProposalStatusActive,
		CreatedAt:      now,
	}
	if req.TargetAmount != nil {
		proposal.TargetAmount = decimal.NewNullDecimal(*req.TargetAmount)
	}

	err = s.txRunner.Run(ctx, "create_proposal", func(tx *gorm.DB) error {
		proposal.ID = 0
		if err := s.proposalRepo.Create(ctx, tx, proposal); err != nil {
			return fmt.Errorf("创建提案失败: %w", err)
		}

		payload := map[string]interface{}{
			"proposal_id":     proposal.ID,
			"proposal_type":   proposal.ProposalType,
			"creator_id":      creatorID,
			"title":           proposal.Title,
			"voting_deadline": proposal.VotingDeadline.Format(time.RFC3339),
			"execution_time":  proposal.ExecutionTime.Format(time.RFC3339),
		}
		if proposal.TargetAmount.Valid {
			payload["target_amount"] = proposal.TargetAmount.Decimal
		}
		return s.events.write(ctx, tx, proposalTarget(s.cfg.Kafka.Topic.GovernanceEvent, proposal.ID), EventProposalCreated, payload, now)
	})

	metrics.RecordGovernanceOp("create_proposal", err)
	if err != nil {
		return nil, translateError(err)
	}

	zap.L().Info("提案创建成功",
		zap.Int64("proposal_id", proposal.ID),
		zap.Int64("creator_id", creatorID),
		zap.String("proposal_type", proposalType))

	return proposal, nil
}

func validateProposal(req *CreateProposalRequest, proposalType string, votingDeadline time.Time) error {
	if strings.TrimSpace(req.Title) == "" {
		return newError(KindInvalidProposal, "提案标题不能为空")
	}
	if !model.IsValidProposalType(proposalType) {
		return newError(KindInvalidProposal, fmt.Sprintf("不支持的提案类型: %s", req.ProposalType))
	}
	if req.TargetAmount != nil && checkAmount(*req.TargetAmount) != nil {
		return newError(KindInvalidProposal, "target_amount 必须大于0，最多 18 位小数和 18 位整数")
	}
	if proposalType == model.ProposalTypeTreasury && req.TargetAmount == nil {
		return newError(KindInvalidProposal, "国库提案必须指定 target_amount")
	}
	if req.ExecutionTime.Before(votingDeadline) {
		return newError(KindInvalidProposal, "执行时间不能早于投票截止时间")
	}
	return nil
}

func (s *ProposalService) Get(ctx context.Context, id int64) (*model.DAOProposal, error) {
	proposal, err := s.proposalRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProposalNotFound) {
			return nil, newError(KindNotFound, "提案不存在")
		}
		return nil, translateError(err)
	}
	return proposal, nil
}

// List 按创建时间倒序分页查询
func (s *ProposalService) List(ctx context.Context, req *ListProposalRequest) (*PageResult[*model.DAOProposal], error) {
	filter := repository.ProposalFilter{
		Status:       strings.ToUpper(req.Status),
		ProposalType: strings.ToUpper(req.ProposalType),
	}
	if filter.Status != "" {
		if _, ok := validStatuses[filter.Status]; !ok {
			return nil, newError(KindInvalidArgument, fmt.Sprintf("未知的提案状态: %s", req.Status))
		}
	}
	if filter.ProposalType != "" && !model.IsValidProposalType(filter.ProposalType) {
		return nil, newError(KindInvalidArgument, fmt.Sprintf("未知的提案类型: %s", req.ProposalType))
	}

	page, pageSize := normalizePage(req.Page, req.PageSize)
	items, total, err := s.proposalRepo.List(ctx, filter, page, pageSize)
	if err != nil {
		return nil, translateError(fmt.Errorf("查询提案列表失败: %w", err))
	}
	return &PageResult[*model.DAOProposal]{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

var validStatuses = map[string]struct{}{
	model.ProposalStatusActive:   {},
	model.ProposalStatusPassed:   {},
	model.ProposalStatusRejected: {},
	model.ProposalStatusExecuted: {},
}

// Resolve 投票截止后结算提案
//
// 【关键点】和 CastVote 抢同一把提案行锁：结算开始后的投票会看到非 ACTIVE 状态或已过截止时间
func (s *ProposalService) Resolve(ctx context.Context, id int64) (*model.DAOProposal, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.Business.OpTimeout)
	defer cancel()

	var resolved *model.DAOProposal
	err := s.txRunner.Run(ctx, "resolve_proposal", func(tx *gorm.DB) error {
		now := s.clock.Now()

		proposal, err := s.proposalRepo.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repository.ErrProposalNotFound) {
				return newError(KindNotFound, "提案不存在")
			}
			return err
		}

		if proposal.Status != model.ProposalStatusActive {
			return ErrProposalNotActive
		}
		if now.Before(proposal.VotingDeadline) {
			return ErrVotingInProgress
		}

		outcome := s.policy(proposal)
		if err := s.proposalRepo.UpdateStatus(ctx, tx, id, model.ProposalStatusActive, outcome, now); err != nil {
			if errors.Is(err, repository.ErrProposalStatusInvalid) {
				return ErrProposalNotActive
			}
			return fmt.Errorf("更新提案状态失败: %w", err)
		}

		proposal.Status = outcome
		proposal.ResolvedAt = &now
		resolved = proposal

		payload := map[string]interface{}{
			"proposal_id":   proposal.ID,
			"proposal_type": proposal.ProposalType,
			"status":        outcome,
			"for_votes":     proposal.ForVotes,
			"against_votes": proposal.AgainstVotes,
		}
		return s.events.write(ctx, tx, proposalTarget(s.cfg.Kafka.Topic.GovernanceEvent, proposal.ID), EventProposalResolved, payload, now)
	})

	metrics.RecordGovernanceOp("resolve_proposal", err)
	if err != nil {
		return nil, translateError(err)
	}

	zap.L().Info("提案投票结算完成",
		zap.Int64("proposal_id", id),
		zap.String("status", resolved.Status),
		zap.Int64("for_votes", resolved.ForVotes),
		zap.Int64("against_votes", resolved.AgainstVotes))

	return resolved, nil
}

// ResolveExpired 结算所有已过投票截止时间的 ACTIVE 提案，返回结算数量
func (s *ProposalService) ResolveExpired(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = s.cfg.Job.BatchSize
	}

	resolved := 0
	for {
		proposals, err := s.proposalRepo.ListExpiredActive(ctx, s.clock.Now(), batchSize)
		if err != nil {
			return resolved, fmt.Errorf("查询待结算提案失败: %w", err)
		}
		if len(proposals) == 0 {
			return resolved, nil
		}

		progressed := 0
		for _, p := range proposals {
			_, err := s.Resolve(ctx, p.ID)
			if err != nil {
				// 其他节点已经结算
				if errors.Is(err, ErrProposalNotActive) {
					progressed++
					continue
				}
				zap.L().Error("提案结算失败", zap.Int64("proposal_id", p.ID), zap.Error(err))
				continue
			}
			resolved++
			progressed++
		}

		if len(proposals) < batchSize || progressed == 0 {
			return resolved, nil
		}
	}
}

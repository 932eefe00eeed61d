package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stakedao/internal/auth"
	"stakedao/internal/clock"
	"stakedao/internal/config"
	"stakedao/internal/infrastructure/database"
	"stakedao/internal/infrastructure/metrics"
	"stakedao/internal/model"
	"stakedao/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EffectFunc 提案执行时的类型相关动作，和状态更新在同一事务
type EffectFunc func(ctx context.Context, tx *gorm.DB, p *model.DAOProposal, executedAt time.Time) error

// ExecutionService 已通过提案的执行闸门
type ExecutionService struct {
	txRunner     *database.TxRunner
	clock        clock.Clock
	cfg          *config.Config
	proposalRepo *repository.ProposalRepository
	events       eventWriter
	effects      map[string]EffectFunc
}

func NewExecutionService(db *gorm.DB, cfg *config.Config, clk clock.Clock) *ExecutionService {
	s := &ExecutionService{
		txRunner:     database.NewTxRunner(db, cfg.Retry),
		clock:        clk,
		cfg:          cfg,
		proposalRepo: repository.NewProposalRepository(db),
		events:       eventWriter{outboxRepo: repository.NewOutboxRepository(db)},
	}
	s.effects = map[string]EffectFunc{
		model.ProposalTypeTreasury:   s.treasuryTransfer,
		model.ProposalTypeGovernance: noEffect,
		model.ProposalTypeProtocol:   noEffect,
		model.ProposalTypeEmergency:  noEffect,
	}
	return s
}

// RegisterEffect 覆盖某个提案类型的执行动作
func (s *ExecutionService) RegisterEffect(proposalType string, fn EffectFunc) {
	s.effects[proposalType] = fn
}

type ExecutionResult struct {
	ProposalID int64     `json:"proposal_id"`
	Status     string    `json:"status"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Execute 执行已通过的提案
//
// 检查顺序：权限 -> 提案存在 -> 状态为 PASSED -> 到达执行时间。
// 状态更新带 status = PASSED 条件，并发执行只有一个成功，其余返回 PROPOSAL_NOT_PASSED
func (s *ExecutionService) Execute(ctx context.Context, proposalID int64, caller auth.Identity) (*ExecutionResult, error) {
	if !caller.IsAdmin() {
		metrics.RecordGovernanceOp("execute_proposal", ErrUnauthorized)
		return nil, ErrUnauthorized
	}

	ctx, cancel := withTimeout(ctx, s.cfg.Business.OpTimeout)
	defer cancel()

	var result *ExecutionResult
	err := s.txRunner.Run(ctx, "execute_proposal", func(tx *gorm.DB) error {
		now := s.clock.Now()

		proposal, err := s.proposalRepo.GetByIDForUpdate(ctx, tx, proposalID)
		if err != nil {
			if errors.Is(err, repository.ErrProposalNotFound) {
				return newError(KindNotFound, "提案不存在")
			}
			return err
		}

		if proposal.Status != model.ProposalStatusPassed {
			return ErrProposalNotPassed
		}
		if now.Before(proposal.ExecutionTime) {
			return ErrExecutionTooEarly
		}

		if err := s.proposalRepo.UpdateStatus(ctx, tx, proposalID, model.ProposalStatusPassed, model.ProposalStatusExecuted, now); err != nil {
			if errors.Is(err, repository.ErrProposalStatusInvalid) {
				return ErrProposalNotPassed
			}
			return fmt.Errorf("更新提案状态失败: %w", err)
		}

		effect, ok := s.effects[proposal.ProposalType]
		if !ok {
			return fmt.Errorf("提案类型 %s 没有执行动作", proposal.ProposalType)
		}
		if err := effect(ctx, tx, proposal, now); err != nil {
			return fmt.Errorf("执行提案动作失败: %w", err)
		}

		payload := map[string]interface{}{
			"proposal_id":   proposal.ID,
			"proposal_type": proposal.ProposalType,
			"executed_by":   caller.UserID,
		}
		if err := s.events.write(ctx, tx, proposalTarget(s.cfg.Kafka.Topic.GovernanceEvent, proposal.ID), EventProposalExecuted, payload, now); err != nil {
			return err
		}

		result = &ExecutionResult{
			ProposalID: proposalID,
			Status:     model.ProposalStatusExecuted,
			ExecutedAt: now,
		}
		return nil
	})

	metrics.RecordGovernanceOp("execute_proposal", err)
	if err != nil {
		return nil, translateError(err)
	}

	zap.L().Info("提案执行成功",
		zap.Int64("proposal_id", proposalID),
		zap.Int64("executed_by", caller.UserID))

	return result, nil
}

// treasuryTransfer 国库拨款通过 outbox 通知链上合约执行
func (s *ExecutionService) treasuryTransfer(ctx context.Context, tx *gorm.DB, p *model.DAOProposal, executedAt time.Time) error {
	if !p.TargetAmount.Valid || !p.TargetAmount.Decimal.IsPositive() {
		return fmt.Errorf("国库提案 %d 缺少 target_amount", p.ID)
	}
	payload := map[string]interface{}{
		"proposal_id":  p.ID,
		"recipient_id": p.CreatorID,
		"amount":       p.TargetAmount.Decimal,
	}
	return s.events.write(ctx, tx, proposalTarget(s.cfg.Kafka.Topic.GovernanceEvent, p.ID), EventTreasuryTransfer, payload, executedAt)
}

func noEffect(context.Context, *gorm.DB, *model.DAOProposal, time.Time) error {
	return nil
}

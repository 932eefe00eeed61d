package repository

import (
	"context"
	"errors"
	"time"

	"stakedao/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrProposalNotFound      = errors.New("提案不存在")
	ErrProposalStatusInvalid = errors.New("提案状态不允许此操作")
)

// ProposalFilter 列表查询条件，空字符串表示不过滤
type ProposalFilter struct {
	Status       string
	ProposalType string
}

type ProposalRepository struct {
	db *gorm.DB
}

func NewProposalRepository(db *gorm.DB) *ProposalRepository {
	return &ProposalRepository{db: db}
}

func (r *ProposalRepository) Create(ctx context.Context, tx *gorm.DB, proposal *model.DAOProposal) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(proposal).Error
}

func (r *ProposalRepository) GetByID(ctx context.Context, id int64) (*model.DAOProposal, error) {
	var proposal model.DAOProposal
	err := r.db.WithContext(ctx).First(&proposal, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProposalNotFound
		}
		return nil, err
	}
	return &proposal, nil
}

// GetByIDForUpdate 加行锁读取提案，投票、结算和执行都先拿这把锁
func (r *ProposalRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.DAOProposal, error) {
	var proposal model.DAOProposal
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&proposal, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProposalNotFound
		}
		return nil, err
	}
	return &proposal, nil
}

func (r *ProposalRepository) List(ctx context.Context, filter ProposalFilter, page, pageSize int) ([]*model.DAOProposal, int64, error) {
	var proposals []*model.DAOProposal
	var total int64

	query := r.db.WithContext(ctx).Model(&model.DAOProposal{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.ProposalType != "" {
		query = query.Where("proposal_type = ?", filter.ProposalType)
	}

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&proposals).Error

	return proposals, total, err
}

// AddVotes 累加票数，带 status = ACTIVE 条件
func (r *ProposalRepository) AddVotes(ctx context.Context, tx *gorm.DB, id int64, choice string, power int64) error {
	column := "against_votes"
	if choice == model.VoteFor {
		column = "for_votes"
	}

	result := tx.WithContext(ctx).
		Model(&model.DAOProposal{}).
		Where("id = ? AND status = ?", id, model.ProposalStatusActive).
		UpdateColumn(column, gorm.Expr(column+" + ?", power))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProposalStatusInvalid
	}
	return nil
}

// UpdateStatus 带前置状态条件的状态更新
//
// 【关键点】WHERE status = fromStatus：并发执行/结算时只有一个能更新成功，
// 其余影响 0 行，返回 ErrProposalStatusInvalid
func (r *ProposalRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string, at time.Time) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrProposalStatusInvalid
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	switch toStatus {
	case model.ProposalStatusPassed, model.ProposalStatusRejected:
		updates["resolved_at"] = at
	case model.ProposalStatusExecuted:
		updates["executed_at"] = at
	}

	result := tx.WithContext(ctx).
		Model(&model.DAOProposal{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProposalStatusInvalid
	}
	return nil
}

// ListExpiredActive 查询投票已截止但仍为 ACTIVE 的提案
func (r *ProposalRepository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*model.DAOProposal, error) {
	var proposals []*model.DAOProposal
	err := r.db.WithContext(ctx).
		Where("status = ? AND voting_deadline <= ?", model.ProposalStatusActive, now).
		Order("voting_deadline ASC, id ASC").
		Limit(limit).
		Find(&proposals).Error
	return proposals, err
}

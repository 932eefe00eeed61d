package repository

import (
	"context"
	"errors"

	"stakedao/internal/infrastructure/database"
	"stakedao/internal/model"

	"gorm.io/gorm"
)

var ErrDuplicateVote = errors.New("该用户已对此提案投票")

type VoteRepository struct {
	db *gorm.DB
}

func NewVoteRepository(db *gorm.DB) *VoteRepository {
	return &VoteRepository{db: db}
}

// Create 写入投票记录，唯一索引冲突转换为 ErrDuplicateVote
func (r *VoteRepository) Create(ctx context.Context, tx *gorm.DB, vote *model.DAOVote) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(vote).Error
	if database.IsDuplicateKey(err) {
		return ErrDuplicateVote
	}
	return err
}

// GetByProposalAndUser 未投票时返回 nil, nil
func (r *VoteRepository) GetByProposalAndUser(ctx context.Context, tx *gorm.DB, proposalID, userID int64) (*model.DAOVote, error) {
	if tx == nil {
		tx = r.db
	}
	var vote model.DAOVote
	err := tx.WithContext(ctx).
		Where("proposal_id = ? AND user_id = ?", proposalID, userID).
		First(&vote).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &vote, nil
}

func (r *VoteRepository) ListByProposal(ctx context.Context, proposalID int64, page, pageSize int) ([]*model.DAOVote, int64, error) {
	var votes []*model.DAOVote
	var total int64

	query := r.db.WithContext(ctx).Model(&model.DAOVote{}).Where("proposal_id = ?", proposalID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&votes).Error

	return votes, total, err
}

type voteSum struct {
	Vote  string
	Total int64
}

// SumPower 按投票选项汇总权重，用于核对提案上的累计票数
func (r *VoteRepository) SumPower(ctx context.Context, proposalID int64) (forPower, againstPower int64, err error) {
	var rows []voteSum
	err = r.db.WithContext(ctx).
		Model(&model.DAOVote{}).
		Select("vote, COALESCE(SUM(voting_power), 0) AS total").
		Where("proposal_id = ?", proposalID).
		Group("vote").
		Scan(&rows).Error
	if err != nil {
		return 0, 0, err
	}

	for _, row := range rows {
		switch row.Vote {
		case model.VoteFor:
			forPower = row.Total
		case model.VoteAgainst:
			againstPower = row.Total
		}
	}
	return forPower, againstPower, nil
}

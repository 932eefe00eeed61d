package repository

import (
	"context"
	"errors"

	"stakedao/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type StakingTransactionRepository struct {
	db *gorm.DB
}

func NewStakingTransactionRepository(db *gorm.DB) *StakingTransactionRepository {
	return &StakingTransactionRepository{db: db}
}

func (r *StakingTransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.StakingTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

func (r *StakingTransactionRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.StakingTransaction, error) {
	var trans model.StakingTransaction
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *StakingTransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.StakingTransaction, int64, error) {
	var transactions []*model.StakingTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.StakingTransaction{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

type typeSum struct {
	Type  string
	Total decimal.Decimal
}

// SumByType 按流水类型汇总金额，用于对账
func (r *StakingTransactionRepository) SumByType(ctx context.Context, userID int64) (map[string]decimal.Decimal, error) {
	query := r.db.WithContext(ctx).
		Model(&model.StakingTransaction{}).
		Where("user_id = ? AND status = ?", userID, model.StakingTxStatusSuccess)

	var rows []typeSum
	if isSQLite(r.db) {
		// TEXT 金额不能交给 SUM，逐行读出后累加
		if err := query.Select("type, amount AS total").Scan(&rows).Error; err != nil {
			return nil, err
		}
	} else {
		err := query.
			Select("type, COALESCE(SUM(amount), 0) AS total").
			Group("type").
			Scan(&rows).Error
		if err != nil {
			return nil, err
		}
	}

	sums := make(map[string]decimal.Decimal)
	for _, row := range rows {
		sums[row.Type] = sums[row.Type].Add(row.Total)
	}
	return sums, nil
}

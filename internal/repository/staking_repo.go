package repository

import (
	"context"
	"errors"
	"time"

	"stakedao/internal/infrastructure/database"
	"stakedao/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrStakingAccountNotFound = errors.New("质押账户不存在")
	ErrOptimisticLock         = database.ErrConflict
)

// PlatformStats 全平台质押汇总
type PlatformStats struct {
	TotalStakers int64           `json:"total_stakers"`
	TotalStaked  decimal.Decimal `json:"total_staked"`
	TotalRewards decimal.Decimal `json:"total_rewards"`
}

type StakingRepository struct {
	db *gorm.DB
}

func NewStakingRepository(db *gorm.DB) *StakingRepository {
	return &StakingRepository{db: db}
}

// Create 创建质押账户，并发首次质押导致唯一键冲突时返回 ErrOptimisticLock，由事务重试
func (r *StakingRepository) Create(ctx context.Context, tx *gorm.DB, account *model.StakingAccount) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(account).Error
	if database.IsDuplicateKey(err) {
		return ErrOptimisticLock
	}
	return err
}

func (r *StakingRepository) GetByUserID(ctx context.Context, userID int64) (*model.StakingAccount, error) {
	var account model.StakingAccount
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStakingAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByUserIDForUpdate 在事务内加行锁读取账户
func (r *StakingRepository) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.StakingAccount, error) {
	var account model.StakingAccount
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStakingAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// SaveBalances 按版本号写回质押数量、奖励和奖励时间
//
// 【关键点】行锁之外再加 version 条件：没有行锁的存储（SQLite）也能发现并发修改，
// 影响 0 行返回 ErrOptimisticLock，由 TxRunner 重试整个事务
func (r *StakingRepository) SaveBalances(ctx context.Context, tx *gorm.DB, account *model.StakingAccount) error {
	result := tx.WithContext(ctx).
		Model(&model.StakingAccount{}).
		Where("id = ? AND version = ?", account.ID, account.Version).
		Updates(map[string]interface{}{
			"staked_amount":    account.StakedAmount,
			"rewards":          account.Rewards,
			"last_reward_time": account.LastRewardTime,
			"version":          gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}

	account.Version++
	return nil
}

// Stats 对所有账户做聚合
//
// SQLite 的金额列是 TEXT，SUM 会按浮点计算，改为逐行读出后用 decimal 累加
func (r *StakingRepository) Stats(ctx context.Context) (*PlatformStats, error) {
	if isSQLite(r.db) {
		return r.foldStats(ctx)
	}

	var stats PlatformStats
	err := r.db.WithContext(ctx).
		Model(&model.StakingAccount{}).
		Select("COUNT(CASE WHEN staked_amount > 0 THEN 1 END) AS total_stakers, " +
			"COALESCE(SUM(staked_amount), 0) AS total_staked, " +
			"COALESCE(SUM(rewards), 0) AS total_rewards").
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

type accountBalance struct {
	StakedAmount decimal.Decimal
	Rewards      decimal.Decimal
}

// foldStats 只用于 SQLite（本地开发和测试），账户数量有限，一次读出
func (r *StakingRepository) foldStats(ctx context.Context) (*PlatformStats, error) {
	var balances []accountBalance
	err := r.db.WithContext(ctx).
		Model(&model.StakingAccount{}).
		Select("staked_amount, rewards").
		Scan(&balances).Error
	if err != nil {
		return nil, err
	}

	stats := &PlatformStats{TotalStaked: decimal.Zero, TotalRewards: decimal.Zero}
	for _, b := range balances {
		if b.StakedAmount.IsPositive() {
			stats.TotalStakers++
		}
		stats.TotalStaked = stats.TotalStaked.Add(b.StakedAmount)
		stats.TotalRewards = stats.TotalRewards.Add(b.Rewards)
	}
	return stats, nil
}

// ListDueForSettlement 查询奖励结算时间早于 before 且仍有质押的账户，按 id 游标分页
func (r *StakingRepository) ListDueForSettlement(ctx context.Context, before time.Time, afterID int64, limit int) ([]*model.StakingAccount, error) {
	var accounts []*model.StakingAccount
	err := r.db.WithContext(ctx).
		Where("last_reward_time <= ? AND id > ?", before, afterID).
		Where(positive(r.db, "staked_amount")).
		Order("id ASC").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}

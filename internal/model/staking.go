package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 质押流水类型常量
// ============================================================================

const (
	StakingTxTypeStake        = "stake"         // 质押
	StakingTxTypeUnstake      = "unstake"       // 解除质押
	StakingTxTypeClaimRewards = "claim_rewards" // 领取奖励
)

const (
	StakingTxStatusSuccess = "SUCCESS"
)

// StakingAccount 用户质押账户表
// 每个用户一条，首次质押时创建，解押到 0 也不删除（保留历史）
//
// 【重要】staked_amount 和 rewards 只能通过质押账本的操作修改，
// 每次修改都在同一个事务里追加一条 StakingTransaction
type StakingAccount struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64           `gorm:"uniqueIndex;not null" json:"user_id"`
	StakedAmount   decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"staked_amount"` // 质押数量
	Rewards        decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"rewards"`       // 已累计未领取奖励
	APY            decimal.Decimal `gorm:"column:apy;type:decimal(10,4);not null" json:"apy"`           // 年化收益率（百分比）
	LastRewardTime time.Time       `gorm:"not null;index" json:"last_reward_time"`                      // 奖励结算到的时间点
	Version        int             `gorm:"not null;default:0" json:"version"`                           // 乐观锁版本号
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (StakingAccount) TableName() string {
	return "staking_account"
}

// StakingTransaction 质押流水表，只追加不修改
//
// balance_before / balance_after 记录的是本次变动的那个余额：
// stake/unstake 对应 staked_amount，claim_rewards 对应 rewards
type StakingTransaction struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	StakingID     int64           `gorm:"index;not null" json:"staking_id"`
	UserID        int64           `gorm:"index;not null" json:"user_id"`
	Type          string          `gorm:"type:varchar(20);not null" json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"` // 恒为正数
	BalanceBefore decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"balance_after"`
	Status        string          `gorm:"type:varchar(20);not null" json:"status"`
	CreatedAt     time.Time       `gorm:"index" json:"created_at"`
}

func (StakingTransaction) TableName() string {
	return "staking_transaction"
}

package service

import (
	"time"

	"stakedao/internal/model"

	"github.com/shopspring/decimal"
)

const rewardScale = 8

var (
	hundred       = decimal.NewFromInt(100)
	yearNanos     = decimal.NewFromInt(int64(365 * 24 * time.Hour))
	rewardDivisor = hundred.Mul(yearNanos)
)

// accrueRewards 按完整计息周期给账户累计奖励，返回本次累计的数量
//
// 奖励 = 质押 × APY% × (周期数 × 周期长度) / 365天，截断到 8 位小数；
// last_reward_time 只前进完整周期，不足一个周期的部分留到下次
func accrueRewards(account *model.StakingAccount, now time.Time, interval time.Duration) decimal.Decimal {
	if interval <= 0 || !now.After(account.LastRewardTime) {
		return decimal.Zero
	}

	periods := int64(now.Sub(account.LastRewardTime) / interval)
	if periods <= 0 {
		return decimal.Zero
	}

	elapsed := time.Duration(periods) * interval
	account.LastRewardTime = account.LastRewardTime.Add(elapsed)

	if !account.StakedAmount.IsPositive() || !account.APY.IsPositive() {
		return decimal.Zero
	}

	accrued := account.StakedAmount.
		Mul(account.APY).
		Mul(decimal.NewFromInt(int64(elapsed))).
		Div(rewardDivisor).
		Truncate(rewardScale)

	account.Rewards = account.Rewards.Add(accrued)
	return accrued
}

package service

import (
	"testing"
	"time"

	"stakedao/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestAccrueRewards(t *testing.T) {
	day := 24 * time.Hour

	t.Run("不足一个周期不计息", func(t *testing.T) {
		a := &model.StakingAccount{StakedAmount: dec("2920"), Rewards: dec("0"), APY: dec("12.5"), LastRewardTime: testStart}
		accrued := accrueRewards(a, testStart.Add(23*time.Hour), day)
		assert.True(t, accrued.IsZero())
		assert.Equal(t, testStart, a.LastRewardTime)
	})

	t.Run("按完整周期计息并保留零头", func(t *testing.T) {
		a := &model.StakingAccount{StakedAmount: dec("2920"), Rewards: dec("0.5"), APY: dec("12.5"), LastRewardTime: testStart}
		accrued := accrueRewards(a, testStart.Add(2*day+6*time.Hour), day)
		assert.True(t, dec("2").Equal(accrued), accrued.String())
		assert.True(t, dec("2.5").Equal(a.Rewards), a.Rewards.String())
		assert.Equal(t, testStart.Add(2*day), a.LastRewardTime)
	})

	t.Run("截断到8位小数", func(t *testing.T) {
		a := &model.StakingAccount{StakedAmount: dec("1"), Rewards: dec("0"), APY: dec("10"), LastRewardTime: testStart}
		accrued := accrueRewards(a, testStart.Add(day), day)
		// 1 * 10% / 365 = 0.000273972602...
		assert.True(t, dec("0.00027397").Equal(accrued), accrued.String())
	})

	t.Run("没有质押只推进时间", func(t *testing.T) {
		a := &model.StakingAccount{StakedAmount: dec("0"), Rewards: dec("0"), APY: dec("12.5"), LastRewardTime: testStart}
		accrued := accrueRewards(a, testStart.Add(3*day), day)
		assert.True(t, accrued.IsZero())
		assert.Equal(t, testStart.Add(3*day), a.LastRewardTime)
	})
}

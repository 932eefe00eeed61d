package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"stakedao/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStake_CreatesAccountWithDefaultAPY(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.staking.Stake(ctx, 1, dec("100"))
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(result.NewStakedAmount))
	assert.NotZero(t, result.TransactionID)
	assert.Contains(t, result.TransactionNo, "STK")

	result, err = env.staking.Stake(ctx, 1, dec("50.5"))
	require.NoError(t, err)
	assert.True(t, dec("150.5").Equal(result.NewStakedAmount))

	info, err := env.staking.GetInfo(ctx, 1)
	require.NoError(t, err)
	assert.True(t, dec("150.5").Equal(info.StakedAmount))
	assert.True(t, dec("12.5").Equal(info.APY))
}

func TestStake_InvalidAmount(t *testing.T) {
	env := newTestEnv(t)

	for _, amount := range []string{"0", "-1"} {
		_, err := env.staking.Stake(context.Background(), 1, dec(amount))
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
	_, err := env.staking.Unstake(context.Background(), 1, dec("0"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestUnstake(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.staking.Unstake(ctx, 1, dec("10"))
	assert.ErrorIs(t, err, ErrNotFound)

	env.stake(t, 1, "100")

	_, err = env.staking.Unstake(ctx, 1, dec("150"))
	assert.ErrorIs(t, err, ErrInsufficientStake)

	info, err := env.staking.GetInfo(ctx, 1)
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(info.StakedAmount), "失败的解押不能改变余额")

	history, err := env.staking.ListTransactions(ctx, 1, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 1, history.Total, "失败的解押不能留下流水")

	result, err := env.staking.Unstake(ctx, 1, dec("100"))
	require.NoError(t, err)
	assert.True(t, result.NewStakedAmount.IsZero())
}

func TestStakeThenClaim_NoRewards(t *testing.T) {
	env := newTestEnv(t)

	env.stake(t, 1, "500")
	_, err := env.staking.ClaimRewards(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoRewards)

	_, err = env.staking.ClaimRewards(context.Background(), 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimRewards_AfterAccrual(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 2920 * 12.5% / 365 = 1 每天
	env.stake(t, 1, "2920")
	env.clock.Advance(24 * time.Hour)

	info, err := env.staking.GetInfo(ctx, 1)
	require.NoError(t, err)
	assert.True(t, dec("1").Equal(info.Rewards), info.Rewards.String())

	claim, err := env.staking.ClaimRewards(ctx, 1)
	require.NoError(t, err)
	assert.True(t, dec("1").Equal(claim.ClaimedAmount), claim.ClaimedAmount.String())
	assert.True(t, claim.NewRewards.IsZero())

	_, err = env.staking.ClaimRewards(ctx, 1)
	assert.ErrorIs(t, err, ErrNoRewards)

	// 领取后重新计时，36 小时只有一个完整周期
	env.clock.Advance(36 * time.Hour)
	info, err = env.staking.GetInfo(ctx, 1)
	require.NoError(t, err)
	assert.True(t, dec("1").Equal(info.Rewards), info.Rewards.String())
}

func TestStake_AccruesBeforeBalanceChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.stake(t, 1, "2920")
	env.clock.Advance(48 * time.Hour)
	// 加仓之前的两天按 2920 计息
	env.stake(t, 1, "2920")
	env.clock.Advance(24 * time.Hour)

	info, err := env.staking.GetInfo(ctx, 1)
	require.NoError(t, err)
	assert.True(t, dec("4").Equal(info.Rewards), info.Rewards.String())
}

func TestLedgerConservation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.stake(t, 1, "1000")
	env.stake(t, 1, "500")
	_, err := env.staking.Unstake(ctx, 1, dec("300"))
	require.NoError(t, err)
	_, err = env.staking.Unstake(ctx, 1, dec("5000"))
	require.ErrorIs(t, err, ErrInsufficientStake)

	result, err := env.staking.Reconcile(ctx, 1)
	require.NoError(t, err)
	assert.True(t, result.Balanced)
	assert.True(t, dec("1200").Equal(result.StakedAmount))
	assert.True(t, dec("1200").Equal(result.LedgerStaked))

	history, err := env.staking.ListTransactions(ctx, 1, 1, 20)
	require.NoError(t, err)
	require.Len(t, history.Items, 3)
	assert.Equal(t, model.StakingTxTypeUnstake, history.Items[0].Type)
	assert.True(t, dec("1500").Equal(history.Items[0].BalanceBefore))
	assert.True(t, dec("1200").Equal(history.Items[0].BalanceAfter))
}

func TestConcurrentStakes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.staking.Stake(ctx, 1, dec("10"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	result, err := env.staking.Reconcile(ctx, 1)
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(result.StakedAmount), result.StakedAmount.String())
	assert.True(t, result.Balanced)
}

func TestGetInfo_PlatformStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	info, err := env.staking.GetInfo(ctx, 1)
	require.NoError(t, err)
	assert.True(t, info.StakedAmount.IsZero())
	assert.Nil(t, info.LastRewardTime)
	assert.EqualValues(t, 0, info.Platform.TotalStakers)

	env.stake(t, 1, "100")
	env.stake(t, 2, "300")
	env.stake(t, 3, "50")
	_, err = env.staking.Unstake(ctx, 3, dec("50"))
	require.NoError(t, err)

	info, err = env.staking.GetInfo(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, info.Platform.TotalStakers)
	assert.True(t, dec("400").Equal(info.Platform.TotalStaked), info.Platform.TotalStaked.String())
}

func TestSettleDueRewards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.stake(t, 1, "2920")
	env.stake(t, 2, "5840")

	settled, err := env.staking.SettleDueRewards(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, settled)

	env.clock.Advance(24 * time.Hour)
	settled, err = env.staking.SettleDueRewards(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, settled)

	info, err := env.staking.GetInfo(ctx, 2)
	require.NoError(t, err)
	assert.True(t, dec("2").Equal(info.Rewards), info.Rewards.String())
	require.NotNil(t, info.LastRewardTime)
	assert.True(t, info.LastRewardTime.Equal(testStart.Add(24*time.Hour)))

	// 已结算的周期不会重复入账
	settled, err = env.staking.SettleDueRewards(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, settled)
}

func TestStakingEventsWrittenToOutbox(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.stake(t, 1, "100")
	_, err := env.staking.Unstake(ctx, 1, dec("40"))
	require.NoError(t, err)

	stakes, err := env.outbox.ListByEventType(ctx, EventStake)
	require.NoError(t, err)
	require.Len(t, stakes, 1)
	assert.Equal(t, env.cfg.Kafka.Topic.StakingEvent, stakes[0].Topic)
	assert.Contains(t, stakes[0].Payload, `"user_id":1`)

	unstakes, err := env.outbox.ListByEventType(ctx, EventUnstake)
	require.NoError(t, err)
	assert.Len(t, unstakes, 1)

	// 同一账户的事件使用同一个分区 key，按写入顺序排列
	history, err := env.outbox.ListByAggregate(ctx, model.AggregateStakingAccount, 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, EventStake, history[0].EventType)
	assert.Equal(t, EventUnstake, history[1].EventType)
	assert.Equal(t, "staking_account:1", history[0].MessageKey)
	assert.Equal(t, history[0].MessageKey, history[1].MessageKey)
	assert.NotEqual(t, history[0].EventID, history[1].EventID)
}

func TestStake_FractionalAmountsExact(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env.stake(t, 1, "0.1")
	}

	result, err := env.staking.Reconcile(ctx, 1)
	require.NoError(t, err)
	assert.True(t, result.Balanced)
	assert.Equal(t, "0.3", result.StakedAmount.String())
	assert.Equal(t, "0.3", result.LedgerStaked.String())

	_, err = env.staking.Unstake(ctx, 1, dec("0.000000000000000001"))
	require.NoError(t, err)
	result, err = env.staking.Reconcile(ctx, 1)
	require.NoError(t, err)
	assert.True(t, result.Balanced)
	assert.Equal(t, "0.299999999999999999", result.LedgerStaked.String())

	env.stake(t, 2, "0.2")
	stats, err := env.staking.PlatformStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalStakers)
	assert.Equal(t, "0.499999999999999999", stats.TotalStaked.String())
}

func TestStake_AmountOutOfRange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.stake(t, 1, "1000")
	for _, amount := range []string{"0.0000000000000000001", "1000000000000000000", "1e40"} {
		_, err := env.staking.Stake(ctx, 1, dec(amount))
		assert.ErrorIs(t, err, ErrInvalidAmount, amount)
	}
	_, err := env.staking.Unstake(ctx, 1, dec("0.0000000000000000001"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	// 单笔合法但累计超出上限
	env.stake(t, 2, "999999999999999999")
	_, err = env.staking.Stake(ctx, 2, dec("1"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	info, err := env.staking.GetInfo(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "1000", info.StakedAmount.String(), "被拒绝的金额不能改变余额")
}

func TestStake_MaxPrecisionRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const amount = "123456789012345678.123456789"
	env.stake(t, 1, amount)

	info, err := env.staking.GetInfo(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, amount, info.StakedAmount.String())
	assert.Equal(t, amount, info.Platform.TotalStaked.String())

	result, err := env.staking.Reconcile(ctx, 1)
	require.NoError(t, err)
	assert.True(t, result.Balanced)
	assert.Equal(t, amount, result.LedgerStaked.String())
}

func TestStake_CancelledContext(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.staking.Stake(ctx, 1, dec("100"))
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)

	info, err := env.staking.GetInfo(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, info.StakedAmount.IsZero())
}

func TestGetTransaction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.staking.Stake(ctx, 1, dec("100"))
	require.NoError(t, err)

	trans, err := env.staking.GetTransaction(ctx, 1, result.TransactionNo)
	require.NoError(t, err)
	assert.Equal(t, result.TransactionID, trans.ID)
	assert.Equal(t, model.StakingTxTypeStake, trans.Type)
	assert.True(t, dec("100").Equal(trans.Amount))

	_, err = env.staking.GetTransaction(ctx, 2, result.TransactionNo)
	assert.ErrorIs(t, err, ErrNotFound, "不能查看别人的流水")

	_, err = env.staking.GetTransaction(ctx, 1, "STK-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

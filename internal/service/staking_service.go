package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stakedao/internal/clock"
	"stakedao/internal/config"
	"stakedao/internal/infrastructure/cache"
	"stakedao/internal/infrastructure/database"
	"stakedao/internal/infrastructure/metrics"
	"stakedao/internal/model"
	"stakedao/internal/repository"
	"stakedao/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StakingService 质押账本
//
// 【关键点】账户余额的每次变化都和一条流水、一条 outbox 消息在同一个事务里提交：
//  1. SELECT ... FOR UPDATE 锁住账户行
//  2. 先按完整周期累计奖励，再改余额
//  3. UPDATE ... WHERE version = ? 写回，并发修改时整个事务重试
type StakingService struct {
	txRunner    *database.TxRunner
	clock       clock.Clock
	cfg         *config.Config
	stakingRepo *repository.StakingRepository
	txnRepo     *repository.StakingTransactionRepository
	events      eventWriter
	statsCache  cache.StatsCache
}

func NewStakingService(db *gorm.DB, cfg *config.Config, clk clock.Clock, statsCache cache.StatsCache) *StakingService {
	return &StakingService{
		txRunner:    database.NewTxRunner(db, cfg.Retry),
		clock:       clk,
		cfg:         cfg,
		stakingRepo: repository.NewStakingRepository(db),
		txnRepo:     repository.NewStakingTransactionRepository(db),
		events:      eventWriter{outboxRepo: repository.NewOutboxRepository(db)},
		statsCache:  statsCache,
	}
}

type StakeResult struct {
	TransactionID   int64           `json:"transaction_id"`
	TransactionNo   string          `json:"transaction_no"`
	NewStakedAmount decimal.Decimal `json:"new_staked_amount"`
}

type ClaimResult struct {
	TransactionID int64           `json:"transaction_id"`
	TransactionNo string          `json:"transaction_no"`
	ClaimedAmount decimal.Decimal `json:"claimed_amount"`
	NewRewards    decimal.Decimal `json:"new_rewards"`
}

type StakingInfo struct {
	UserID         int64                     `json:"user_id"`
	StakedAmount   decimal.Decimal           `json:"staked_amount"`
	Rewards        decimal.Decimal           `json:"rewards"`
	APY            decimal.Decimal           `json:"apy"`
	LastRewardTime *time.Time                `json:"last_reward_time,omitempty"`
	Platform       *repository.PlatformStats `json:"platform"`
}

type ReconcileResult struct {
	UserID       int64           `json:"user_id"`
	StakedAmount decimal.Decimal `json:"staked_amount"`
	LedgerStaked decimal.Decimal `json:"ledger_staked"`
	TotalClaimed decimal.Decimal `json:"total_claimed"`
	Balanced     bool            `json:"balanced"`
}

// 金额列为 decimal(36,18)：最多 18 位小数，整数部分最多 18 位
const amountScale = 18

var maxAmount = decimal.New(1, 36-amountScale)

// checkAmount 拒绝非正数和超出存储精度的金额，避免落库时被截断
func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(amountScale)) {
		return newError(KindInvalidAmount, "金额最多 18 位小数")
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return newError(KindInvalidAmount, "金额超出范围")
	}
	return nil
}

func (s *StakingService) Stake(ctx context.Context, userID int64, amount decimal.Decimal) (*StakeResult, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.cfg.Business.OpTimeout)
	defer cancel()

	var result *StakeResult
	err := s.txRunner.Run(ctx, model.StakingTxTypeStake, func(tx *gorm.DB) error {
		now := s.clock.Now()

		account, err := s.stakingRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if errors.Is(err, repository.ErrStakingAccountNotFound) {
			account = &model.StakingAccount{
				UserID:         userID,
				StakedAmount:   decimal.Zero,
				Rewards:        decimal.Zero,
				APY:            s.cfg.Staking.DefaultAPY,
				LastRewardTime: now,
			}
			if err := s.stakingRepo.Create(ctx, tx, account); err != nil {
				return fmt.Errorf("创建质押账户失败: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("查询质押账户失败: %w", err)
		}

		accrueRewards(account, now, s.cfg.Staking.RewardInterval)

		before := account.StakedAmount
		account.StakedAmount = before.Add(amount)
		if account.StakedAmount.GreaterThanOrEqual(maxAmount) {
			return newError(KindInvalidAmount, "质押总量超出范围")
		}
		if err := s.stakingRepo.SaveBalances(ctx, tx, account); err != nil {
			return err
		}

		trans, err := s.appendTransaction(ctx, tx, account, model.StakingTxTypeStake, idgen.PrefixStake, amount, before, account.StakedAmount, now)
		if err != nil {
			return err
		}

		result = &StakeResult{
			TransactionID:   trans.ID,
			TransactionNo:   trans.TransactionNo,
			NewStakedAmount: account.StakedAmount,
		}
		return nil
	})

	metrics.RecordLedgerOp(model.StakingTxTypeStake, err)
	if err != nil {
		return nil, translateError(err)
	}

	s.invalidateStats(ctx)
	zap.L().Info("质押成功",
		zap.Int64("user_id", userID),
		zap.String("amount", amount.String()),
		zap.String("transaction_no", result.TransactionNo))

	return result, nil
}

func (s *StakingService) Unstake(ctx context.Context, userID int64, amount decimal.Decimal) (*StakeResult, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.cfg.Business.OpTimeout)
	defer cancel()

	var result *StakeResult
	err := s.txRunner.Run(ctx, model.StakingTxTypeUnstake, func(tx *gorm.DB) error {
		now := s.clock.Now()

		account, err := s.stakingRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrStakingAccountNotFound) {
				return newError(KindNotFound, "质押账户不存在")
			}
			return fmt.Errorf("查询质押账户失败: %w", err)
		}

		if amount.GreaterThan(account.StakedAmount) {
			return ErrInsufficientStake
		}

		accrueRewards(account, now, s.cfg.Staking.RewardInterval)

		before := account.StakedAmount
		account.StakedAmount = before.Sub(amount)
		if err := s.stakingRepo.SaveBalances(ctx, tx, account); err != nil {
			return err
		}

		trans, err := s.appendTransaction(ctx, tx, account, model.StakingTxTypeUnstake, idgen.PrefixUnstake, amount, before, account.StakedAmount, now)
		if err != nil {
			return err
		}

		result = &StakeResult{
			TransactionID:   trans.ID,
			TransactionNo:   trans.TransactionNo,
			NewStakedAmount: account.StakedAmount,
		}
		return nil
	})

	metrics.RecordLedgerOp(model.StakingTxTypeUnstake, err)
	if err != nil {
		return nil, translateError(err)
	}

	s.invalidateStats(ctx)
	zap.L().Info("解除质押成功",
		zap.Int64("user_id", userID),
		zap.String("amount", amount.String()),
		zap.String("transaction_no", result.TransactionNo))

	return result, nil
}

// ClaimRewards 领取全部奖励，奖励清零并把 last_reward_time 重置为当前时间
func (s *StakingService) ClaimRewards(ctx context.Context, userID int64) (*ClaimResult, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.Business.OpTimeout)
	defer cancel()

	var result *ClaimResult
	err := s.txRunner.Run(ctx, model.StakingTxTypeClaimRewards, func(tx *gorm.DB) error {
		now := s.clock.Now()

		account, err := s.stakingRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrStakingAccountNotFound) {
				return newError(KindNotFound, "质押账户不存在")
			}
			return fmt.Errorf("查询质押账户失败: %w", err)
		}

		accrueRewards(account, now, s.cfg.Staking.RewardInterval)
		if !account.Rewards.IsPositive() {
			return ErrNoRewards
		}

		claimed := account.Rewards
		account.Rewards = decimal.Zero
		account.LastRewardTime = now
		if err := s.stakingRepo.SaveBalances(ctx, tx, account); err != nil {
			return err
		}

		trans, err := s.appendTransaction(ctx, tx, account, model.StakingTxTypeClaimRewards, idgen.PrefixClaimRewards, claimed, claimed, decimal.Zero, now)
		if err != nil {
			return err
		}

		result = &ClaimResult{
			TransactionID: trans.ID,
			TransactionNo: trans.TransactionNo,
			ClaimedAmount: claimed,
			NewRewards:    decimal.Zero,
		}
		return nil
	})

	metrics.RecordLedgerOp(model.StakingTxTypeClaimRewards, err)
	if err != nil {
		return nil, translateError(err)
	}

	s.invalidateStats(ctx)
	zap.L().Info("领取奖励成功",
		zap.Int64("user_id", userID),
		zap.String("claimed", result.ClaimedAmount.String()),
		zap.String("transaction_no", result.TransactionNo))

	return result, nil
}

// GetInfo 返回用户质押信息和全平台汇总，rewards 包含尚未落库的已满周期奖励
//
// 用户没有质押账户时返回 0 和平台默认 APY
func (s *StakingService) GetInfo(ctx context.Context, userID int64) (*StakingInfo, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.Business.OpTimeout)
	defer cancel()

	info := &StakingInfo{
		UserID:       userID,
		StakedAmount: decimal.Zero,
		Rewards:      decimal.Zero,
		APY:          s.cfg.Staking.DefaultAPY,
	}

	account, err := s.stakingRepo.GetByUserID(ctx, userID)
	switch {
	case err == nil:
		accrueRewards(account, s.clock.Now(), s.cfg.Staking.RewardInterval)
		info.StakedAmount = account.StakedAmount
		info.Rewards = account.Rewards
		info.APY = account.APY
		lastRewardTime := account.LastRewardTime
		info.LastRewardTime = &lastRewardTime
	case errors.Is(err, repository.ErrStakingAccountNotFound):
	default:
		return nil, translateError(fmt.Errorf("查询质押账户失败: %w", err))
	}

	stats, err := s.PlatformStats(ctx)
	if err != nil {
		return nil, err
	}
	info.Platform = stats
	return info, nil
}

// PlatformStats 全平台质押汇总，优先读缓存，缓存不可用时直接查库
func (s *StakingService) PlatformStats(ctx context.Context) (*repository.PlatformStats, error) {
	if s.statsCache != nil {
		var cached repository.PlatformStats
		hit, err := s.statsCache.Get(ctx, &cached)
		if err != nil {
			zap.L().Warn("读取平台统计缓存失败", zap.Error(err))
		} else if hit {
			return &cached, nil
		}
	}

	stats, err := s.stakingRepo.Stats(ctx)
	if err != nil {
		return nil, translateError(fmt.Errorf("统计平台质押失败: %w", err))
	}

	if s.statsCache != nil {
		if err := s.statsCache.Set(ctx, stats); err != nil {
			zap.L().Warn("写入平台统计缓存失败", zap.Error(err))
		}
	}
	return stats, nil
}

// GetTransaction 按流水号查询，只能查自己的流水
func (s *StakingService) GetTransaction(ctx context.Context, userID int64, transactionNo string) (*model.StakingTransaction, error) {
	trans, err := s.txnRepo.GetByTransactionNo(ctx, transactionNo)
	if err != nil {
		return nil, translateError(fmt.Errorf("查询质押流水失败: %w", err))
	}
	if trans == nil || trans.UserID != userID {
		return nil, newError(KindNotFound, "质押流水不存在")
	}
	return trans, nil
}

func (s *StakingService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) (*PageResult[*model.StakingTransaction], error) {
	page, pageSize = normalizePage(page, pageSize)

	items, total, err := s.txnRepo.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, translateError(fmt.Errorf("查询质押流水失败: %w", err))
	}
	return &PageResult[*model.StakingTransaction]{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// Reconcile 对账：stake 流水之和减去 unstake 流水之和应等于账户质押数量
func (s *StakingService) Reconcile(ctx context.Context, userID int64) (*ReconcileResult, error) {
	account, err := s.stakingRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrStakingAccountNotFound) {
			return nil, newError(KindNotFound, "质押账户不存在")
		}
		return nil, translateError(err)
	}

	sums, err := s.txnRepo.SumByType(ctx, userID)
	if err != nil {
		return nil, translateError(fmt.Errorf("汇总质押流水失败: %w", err))
	}

	ledgerStaked := sums[model.StakingTxTypeStake].Sub(sums[model.StakingTxTypeUnstake])
	result := &ReconcileResult{
		UserID:       userID,
		StakedAmount: account.StakedAmount,
		LedgerStaked: ledgerStaked,
		TotalClaimed: sums[model.StakingTxTypeClaimRewards],
		Balanced:     ledgerStaked.Equal(account.StakedAmount),
	}

	if !result.Balanced {
		zap.L().Error("质押对账不平",
			zap.Int64("user_id", userID),
			zap.String("staked_amount", account.StakedAmount.String()),
			zap.String("ledger_staked", ledgerStaked.String()))
	}
	return result, nil
}

// SettleDueRewards 把已满周期的奖励写回账户，返回有奖励入账的账户数
func (s *StakingService) SettleDueRewards(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = s.cfg.Job.BatchSize
	}

	cutoff := s.clock.Now().Add(-s.cfg.Staking.RewardInterval)
	settled := 0
	var afterID int64

	for {
		accounts, err := s.stakingRepo.ListDueForSettlement(ctx, cutoff, afterID, batchSize)
		if err != nil {
			return settled, fmt.Errorf("查询待结算账户失败: %w", err)
		}
		if len(accounts) == 0 {
			return settled, nil
		}

		for _, a := range accounts {
			afterID = a.ID
			ok, err := s.settleAccount(ctx, a.UserID)
			if err != nil {
				zap.L().Error("奖励结算失败", zap.Int64("user_id", a.UserID), zap.Error(err))
				continue
			}
			if ok {
				settled++
			}
		}

		if len(accounts) < batchSize {
			return settled, nil
		}
	}
}

func (s *StakingService) settleAccount(ctx context.Context, userID int64) (bool, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.Business.OpTimeout)
	defer cancel()

	var accrued decimal.Decimal
	err := s.txRunner.Run(ctx, "settle_rewards", func(tx *gorm.DB) error {
		account, err := s.stakingRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		lastRewardTime := account.LastRewardTime
		accrued = accrueRewards(account, s.clock.Now(), s.cfg.Staking.RewardInterval)
		if account.LastRewardTime.Equal(lastRewardTime) {
			return nil
		}
		return s.stakingRepo.SaveBalances(ctx, tx, account)
	})
	if err != nil {
		return false, err
	}
	return accrued.IsPositive(), nil
}

func (s *StakingService) appendTransaction(ctx context.Context, tx *gorm.DB, account *model.StakingAccount,
	txType, prefix string, amount, before, after decimal.Decimal, now time.Time) (*model.StakingTransaction, error) {

	trans := &model.StakingTransaction{
		TransactionNo: idgen.GenerateTransactionNo(prefix),
		StakingID:     account.ID,
		UserID:        account.UserID,
		Type:          txType,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Status:        model.StakingTxStatusSuccess,
		CreatedAt:     now,
	}
	if err := s.txnRepo.Create(ctx, tx, trans); err != nil {
		return nil, fmt.Errorf("记录质押流水失败: %w", err)
	}

	payload := map[string]interface{}{
		"transaction_no": trans.TransactionNo,
		"user_id":        account.UserID,
		"amount":         amount,
		"balance_before": before,
		"balance_after":  after,
		"staked_amount":  account.StakedAmount,
		"rewards":        account.Rewards,
	}
	if err := s.events.write(ctx, tx, stakingTarget(s.cfg.Kafka.Topic.StakingEvent, account.UserID), txType, payload, now); err != nil {
		return nil, err
	}
	return trans, nil
}

// invalidateStats 余额变化后删除平台统计缓存，失败只记日志，缓存会按 TTL 过期
func (s *StakingService) invalidateStats(ctx context.Context) {
	if s.statsCache == nil {
		return
	}
	if err := s.statsCache.Invalidate(ctx); err != nil {
		zap.L().Warn("删除平台统计缓存失败", zap.Error(err))
	}
}

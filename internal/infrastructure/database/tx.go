package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"stakedao/internal/config"
	"stakedao/internal/infrastructure/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrConflict 乐观锁更新影响 0 行，说明并发修改，整个事务需要重试
	ErrConflict = errors.New("并发修改冲突")
	// ErrRetryExhausted 瞬时错误重试次数用完
	ErrRetryExhausted = errors.New("存储繁忙，重试次数已用完")
)

const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
	mysqlErrDupEntry        = 1062
)

// TxRunner 把一个业务操作包在一个数据库事务里执行
//
// 【关键点】事务边界就是原子边界，也是取消边界：
//   - fn 返回错误或 ctx 被取消，整个事务回滚，不会留下半截状态
//   - 死锁、锁等待超时、连接断开、乐观锁冲突属于瞬时错误，按指数退避重试整个事务
//   - 业务错误（余额不足、重复投票等）直接返回，不重试
type TxRunner struct {
	db  *gorm.DB
	cfg config.RetryConfig
}

func NewTxRunner(db *gorm.DB, cfg config.RetryConfig) *TxRunner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &TxRunner{db: db, cfg: cfg}
}

func (r *TxRunner) Run(ctx context.Context, name string, fn func(tx *gorm.DB) error) error {
	bo := backoff.NewExponentialBackOff()
	if r.cfg.InitialInterval > 0 {
		bo.InitialInterval = r.cfg.InitialInterval
	}
	if r.cfg.MaxInterval > 0 {
		bo.MaxInterval = r.cfg.MaxInterval
	}
	bo.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := r.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			metrics.RecordTxRetry(name)
			zap.L().Warn("事务遇到瞬时错误，准备重试",
				zap.String("tx", name), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.cfg.MaxAttempts-1)), ctx)
	err := backoff.Retry(op, policy)
	if err != nil && IsTransient(err) {
		return fmt.Errorf("%w: %s: %v", ErrRetryExhausted, name, err)
	}
	return err
}

// IsTransient 判断是否为可重试的存储层错误
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlErrDeadlock || mysqlErr.Number == mysqlErrLockWaitTimeout
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// IsDuplicateKey 判断是否违反唯一约束
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlErrDupEntry
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

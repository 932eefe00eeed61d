package job

import (
	"context"
	"fmt"
	"time"

	"stakedao/internal/infrastructure/lock"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task 定时任务
type Task interface {
	Name() string
	Execute(ctx context.Context) error
}

// LockFactory 按任务名创建分布式锁，多副本部署时保证同一时刻只有一个副本执行
type LockFactory func(taskName string) lock.Locker

// TaskTimeout 任务超时取锁过期时间的 90%，任务在锁过期前被取消
func TaskTimeout(lockTTL time.Duration) time.Duration {
	return lockTTL * 9 / 10
}

// Scheduler 基于 cron 表达式调度 Task，同一任务上一次未结束时跳过本次
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	newLock LockFactory
	timeout time.Duration
}

// NewScheduler lockTTL 为 0 时任务不设超时
func NewScheduler(newLock LockFactory, lockTTL time.Duration) *Scheduler {
	logger := cronLogger{log: zap.L().Sugar().Named("cron")}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
		ctx:     ctx,
		cancel:  cancel,
		newLock: newLock,
		timeout: TaskTimeout(lockTTL),
	}
}

func (s *Scheduler) Register(spec string, task Task) error {
	_, err := s.cron.AddFunc(spec, func() { s.runTask(task) })
	if err != nil {
		return fmt.Errorf("注册定时任务 %s 失败: %w", task.Name(), err)
	}
	zap.L().Info("定时任务已注册", zap.String("task", task.Name()), zap.String("spec", spec))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runTask(task Task) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if s.newLock != nil {
		l := s.newLock(task.Name())
		ok, err := l.TryLock(ctx)
		if err != nil {
			zap.L().Warn("获取任务锁失败", zap.String("task", task.Name()), zap.Error(err))
			return
		}
		if !ok {
			zap.L().Debug("任务正在其他节点执行，跳过", zap.String("task", task.Name()))
			return
		}
		defer func() {
			if err := l.Unlock(context.Background()); err != nil {
				zap.L().Warn("释放任务锁失败", zap.String("task", task.Name()), zap.Error(err))
			}
		}()
	}

	start := time.Now()
	if err := task.Execute(ctx); err != nil {
		zap.L().Error("定时任务执行失败", zap.String("task", task.Name()), zap.Error(err))
		return
	}
	zap.L().Debug("定时任务执行完成", zap.String("task", task.Name()), zap.Duration("cost", time.Since(start)))
}

// cronLogger 把 cron 内部日志转到 zap
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

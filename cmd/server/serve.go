package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stakedao/internal/clock"
	"stakedao/internal/config"
	"stakedao/internal/handler"
	"stakedao/internal/infrastructure/cache"
	"stakedao/internal/infrastructure/database"
	"stakedao/internal/infrastructure/lock"
	"stakedao/internal/infrastructure/mq"
	"stakedao/internal/job"
	"stakedao/internal/service"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务和后台任务",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup := commonRun()
			defer cleanup()
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	clk := clock.System()

	// 初始化数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}

	// 初始化 Redis，不可用时关闭统计缓存和任务锁
	redisClient, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		zap.L().Warn("Redis 不可用，统计缓存和任务锁已关闭", zap.Error(err))
	} else {
		defer redisClient.Close()
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化 Kafka，不可用时消息留在 outbox 表，恢复后重启即可继续投递
	var outboxSender *job.OutboxSender
	producer, err := mq.InitKafka(&cfg.Kafka)
	if err != nil {
		zap.L().Warn("Kafka 不可用，outbox 消息暂不投递", zap.Error(err))
	} else {
		defer producer.Close()
		outboxSender = job.NewOutboxSender(db, producer, cfg)
		go outboxSender.Start(ctx)
	}

	// 启动定时任务
	scheduler, err := newScheduler(db, redisClient, cfg, clk)
	if err != nil {
		return err
	}
	scheduler.Start()

	// 设置路由
	router := handler.SetupRouter(db, redisClient, cfg, clk)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		zap.L().Error("服务启动失败", zap.Error(err))
	}

	zap.L().Info("正在关闭服务...")

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("服务关闭异常", zap.Error(err))
	}

	// 停止后台任务
	scheduler.Stop()
	if outboxSender != nil {
		outboxSender.Stop()
	}
	cancel()

	zap.L().Info("服务已关闭")
	return nil
}

func newScheduler(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, clk clock.Clock) (*job.Scheduler, error) {
	var newLock job.LockFactory
	if redisClient != nil {
		owner := uuid.NewString()
		newLock = func(taskName string) lock.Locker {
			return lock.NewJobLock(redisClient, taskName, owner, cfg.Job.LockTTL)
		}
	}

	scheduler := job.NewScheduler(newLock, cfg.Job.LockTTL)

	proposalSvc := service.NewProposalService(db, cfg, clk)
	if err := scheduler.Register(cfg.Job.ResolveSpec, job.NewProposalResolveJob(proposalSvc, cfg.Job.BatchSize)); err != nil {
		return nil, err
	}

	var statsCache cache.StatsCache
	if redisClient != nil {
		statsCache = cache.NewRedisStatsCache(redisClient, cfg.Business.StatsCacheTTL)
	}
	stakingSvc := service.NewStakingService(db, cfg, clk, statsCache)
	if err := scheduler.Register(cfg.Job.RewardSettleSpec, job.NewRewardSettleJob(stakingSvc, cfg.Job.BatchSize)); err != nil {
		return nil, err
	}

	return scheduler, nil
}

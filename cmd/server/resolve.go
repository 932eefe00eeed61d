package main

import (
	"context"
	"time"

	"stakedao/internal/clock"
	"stakedao/internal/infrastructure/cache"
	"stakedao/internal/infrastructure/database"
	"stakedao/internal/infrastructure/lock"
	"stakedao/internal/job"
	"stakedao/internal/service"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// resolveCommand 手动结算投票已截止的提案，和定时任务共用一把锁
func resolveCommand() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "结算所有投票已截止的提案",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup := commonRun()
			defer cleanup()

			db, err := database.Open(&cfg.Database)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), job.TaskTimeout(cfg.Job.LockTTL))
			defer cancel()

			redisClient, err := cache.InitRedis(&cfg.Redis)
			if err != nil {
				zap.L().Warn("Redis 不可用，不加任务锁直接结算", zap.Error(err))
			} else {
				defer redisClient.Close()
				jobLock := lock.NewJobLock(redisClient, "proposal_resolve", uuid.NewString(), cfg.Job.LockTTL)
				if err := jobLock.Lock(ctx, 500*time.Millisecond, 20); err != nil {
					return err
				}
				defer jobLock.Unlock(context.Background())
			}

			proposalSvc := service.NewProposalService(db, cfg, clock.System())
			resolved, err := proposalSvc.ResolveExpired(ctx, batchSize)
			if err != nil {
				return err
			}

			zap.L().Info("提案结算完成", zap.Int("resolved", resolved))
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "每批处理的提案数，0 表示使用配置")
	return cmd
}

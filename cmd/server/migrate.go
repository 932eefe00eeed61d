package main

import (
	"stakedao/internal/infrastructure/database"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "迁移数据库表结构",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup := commonRun()
			defer cleanup()

			// Open 内部会执行迁移
			db, err := database.Open(&cfg.Database)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			zap.L().Info("表结构迁移完成", zap.String("driver", cfg.Database.Driver))
			return nil
		},
	}
}

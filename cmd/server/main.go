package main

import (
	"fmt"
	"log"
	"os"

	"stakedao/internal/config"
	"stakedao/internal/logger"
	"stakedao/pkg/idgen"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

var configFile string

// commonRun 加载配置、初始化日志和 ID 生成器，返回日志 flush 函数
func commonRun() (*config.Config, func()) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	_, cleanup := logger.Init(&cfg.Log)

	if _, err := maxprocs.Set(maxprocs.Logger(zap.S().Infof)); err != nil {
		zap.L().Warn("设置 GOMAXPROCS 失败", zap.Error(err))
	}

	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		zap.L().Fatal("初始化 ID 生成器失败", zap.Error(err))
	}

	return cfg, cleanup
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "stakedao",
		Short: "质押账本和 DAO 治理服务",
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config/config.yaml", "配置文件路径")

	rootCmd.AddCommand(
		serveCommand(),
		migrateCommand(),
		resolveCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package handler

import (
	"stakedao/internal/auth"
	"stakedao/internal/clock"
	"stakedao/internal/config"
	"stakedao/internal/infrastructure/metrics"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config, clk clock.Clock) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())
	r.Use(metrics.GinMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg, clk)
	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	limit := RateLimitMiddleware(cfg.RateLimit)

	// API 路由组
	api := r.Group("/api/v1", AuthMiddleware(verifier))
	{
		// 质押相关
		staking := api.Group("/staking")
		{
			staking.POST("/stake", limit, h.Stake)
			staking.POST("/unstake", limit, h.Unstake)
			staking.POST("/claim", limit, h.ClaimRewards)
			staking.GET("/info", h.GetStakingInfo)
			staking.GET("/stats", h.GetPlatformStats)
			staking.GET("/transactions", h.ListStakingTransactions)
			staking.GET("/transactions/:transaction_no", h.GetStakingTransaction)
			staking.GET("/reconcile", h.Reconcile)
		}

		// 治理相关
		dao := api.Group("/dao")
		{
			dao.GET("/voting-power", h.GetVotingPower)
			dao.GET("/proposals", h.ListProposals)
			dao.POST("/proposals", limit, h.CreateProposal)
			dao.GET("/proposals/:id", h.GetProposal)
			dao.POST("/proposals/:id/vote", limit, h.CastVote)
			dao.GET("/proposals/:id/tally", h.GetTally)
			dao.GET("/proposals/:id/votes", h.ListVotes)
			dao.GET("/proposals/:id/votes/:user_id", h.GetVote)
			dao.GET("/proposals/:id/audit", h.AuditTally)
			dao.POST("/proposals/:id/resolve", limit, h.ResolveProposal)
			dao.POST("/proposals/:id/execute", limit, h.ExecuteProposal)
		}
	}

	// 健康检查和监控
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	return r
}

package handler

import (
	"context"
	"strconv"
	"time"

	"stakedao/internal/clock"
	"stakedao/internal/config"
	"stakedao/internal/infrastructure/cache"
	"stakedao/internal/model"
	"stakedao/internal/repository"
	"stakedao/internal/service"
	"stakedao/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	db               *gorm.DB
	rdb              *redis.Client
	outboxRepo       *repository.OutboxRepository
	stakingService   *service.StakingService
	proposalService  *service.ProposalService
	voteService      *service.VoteService
	executionService *service.ExecutionService
}

// NewHandler 创建处理器实例，rdb 为 nil 时不使用统计缓存
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, clk clock.Clock) *Handler {
	var statsCache cache.StatsCache
	if rdb != nil {
		statsCache = cache.NewRedisStatsCache(rdb, cfg.Business.StatsCacheTTL)
	}

	return &Handler{
		db:               db,
		rdb:              rdb,
		outboxRepo:       repository.NewOutboxRepository(db),
		stakingService:   service.NewStakingService(db, cfg, clk, statsCache),
		proposalService:  service.NewProposalService(db, cfg, clk),
		voteService:      service.NewVoteService(db, cfg, clk),
		executionService: service.NewExecutionService(db, cfg, clk),
	}
}

// ============================================================
// 质押相关接口
// ============================================================

// AmountRequest 质押/解押请求，amount 支持字符串或数字
type AmountRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

func bindAmount(c *gin.Context) (decimal.Decimal, bool) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return decimal.Decimal{}, false
	}
	if req.Amount == nil {
		response.ParamError(c, "amount 不能为空")
		return decimal.Decimal{}, false
	}
	return *req.Amount, true
}

// Stake 质押
// POST /api/v1/staking/stake
func (h *Handler) Stake(c *gin.Context) {
	amount, ok := bindAmount(c)
	if !ok {
		return
	}

	result, err := h.stakingService.Stake(c.Request.Context(), currentIdentity(c).UserID, amount)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// Unstake 解除质押
// POST /api/v1/staking/unstake
func (h *Handler) Unstake(c *gin.Context) {
	amount, ok := bindAmount(c)
	if !ok {
		return
	}

	result, err := h.stakingService.Unstake(c.Request.Context(), currentIdentity(c).UserID, amount)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// ClaimRewards 领取奖励
// POST /api/v1/staking/claim
func (h *Handler) ClaimRewards(c *gin.Context) {
	result, err := h.stakingService.ClaimRewards(c.Request.Context(), currentIdentity(c).UserID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// GetStakingInfo 查询质押信息
// GET /api/v1/staking/info
func (h *Handler) GetStakingInfo(c *gin.Context) {
	info, err := h.stakingService.GetInfo(c.Request.Context(), currentIdentity(c).UserID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, info)
}

// GetPlatformStats 全平台质押汇总
// GET /api/v1/staking/stats
func (h *Handler) GetPlatformStats(c *gin.Context) {
	stats, err := h.stakingService.PlatformStats(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, stats)
}

// ListStakingTransactions 质押流水
// GET /api/v1/staking/transactions?page=1&page_size=20
func (h *Handler) ListStakingTransactions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.stakingService.ListTransactions(c.Request.Context(), currentIdentity(c).UserID, page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// GetStakingTransaction 按流水号查询质押流水
// GET /api/v1/staking/transactions/:transaction_no
func (h *Handler) GetStakingTransaction(c *gin.Context) {
	trans, err := h.stakingService.GetTransaction(c.Request.Context(), currentIdentity(c).UserID, c.Param("transaction_no"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, trans)
}

// Reconcile 质押对账
// GET /api/v1/staking/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	result, err := h.stakingService.Reconcile(c.Request.Context(), currentIdentity(c).UserID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 治理相关接口
// ============================================================

// CreateProposal 创建提案
// POST /api/v1/dao/proposals
func (h *Handler) CreateProposal(c *gin.Context) {
	var req service.CreateProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	proposal, err := h.proposalService.Create(c.Request.Context(), currentIdentity(c).UserID, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, proposal)
}

// ListProposals 提案列表
// GET /api/v1/dao/proposals?status=ACTIVE&proposal_type=TREASURY&page=1&page_size=20
func (h *Handler) ListProposals(c *gin.Context) {
	var req service.ListProposalRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.proposalService.List(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// GetProposal 提案详情
// GET /api/v1/dao/proposals/:id
func (h *Handler) GetProposal(c *gin.Context) {
	id, ok := proposalID(c)
	if !ok {
		return
	}

	proposal, err := h.proposalService.Get(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, proposal)
}

// VoteRequest 投票请求
type VoteRequest struct {
	Vote string `json:"vote" binding:"required,oneof=for against"`
}

// CastVote 投票
// POST /api/v1/dao/proposals/:id/vote
func (h *Handler) CastVote(c *gin.Context) {
	id, ok := proposalID(c)
	if !ok {
		return
	}

	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.voteService.CastVote(c.Request.Context(), id, currentIdentity(c), req.Vote)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// GetTally 查询票数
// GET /api/v1/dao/proposals/:id/tally
func (h *Handler) GetTally(c *gin.Context) {
	id, ok := proposalID(c)
	if !ok {
		return
	}

	tally, err := h.voteService.GetTally(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, tally)
}

// ListVotes 提案的投票记录
// GET /api/v1/dao/proposals/:id/votes?page=1&page_size=20
func (h *Handler) ListVotes(c *gin.Context) {
	id, ok := proposalID(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.voteService.ListVotes(c.Request.Context(), id, page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// GetVote 查询某个用户的投票
// GET /api/v1/dao/proposals/:id/votes/:user_id
func (h *Handler) GetVote(c *gin.Context) {
	id, ok := proposalID(c)
	if !ok {
		return
	}
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	vote, err := h.voteService.GetVote(c.Request.Context(), id, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, vote)
}

// AuditTally 核对票数
// GET /api/v1/dao/proposals/:id/audit
func (h *Handler) AuditTally(c *gin.Context) {
	id, ok := proposalID(c)
	if !ok {
		return
	}

	audit, err := h.voteService.AuditTally(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, audit)
}

// ResolveProposal 投票截止后结算提案
// POST /api/v1/dao/proposals/:id/resolve
func (h *Handler) ResolveProposal(c *gin.Context) {
	id, ok := proposalID(c)
	if !ok {
		return
	}

	proposal, err := h.proposalService.Resolve(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, proposal)
}

// ExecuteProposal 执行已通过的提案，需要 admin 权限
// POST /api/v1/dao/proposals/:id/execute
func (h *Handler) ExecuteProposal(c *gin.Context) {
	id, ok := proposalID(c)
	if !ok {
		return
	}

	result, err := h.executionService.Execute(c.Request.Context(), id, currentIdentity(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// GetVotingPower 调用方当前的投票权重
// GET /api/v1/dao/voting-power
func (h *Handler) GetVotingPower(c *gin.Context) {
	identity := currentIdentity(c)
	power, err := h.voteService.PowerOf(c.Request.Context(), identity)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"user_id":      identity.UserID,
		"reputation":   identity.Reputation,
		"voting_power": power,
	})
}

// ============================================================
// 健康检查
// ============================================================

// Health 检查数据库和 Redis，并返回待投递消息数
// GET /health
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := gin.H{"status": "ok"}

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
	} else {
		status["database"] = "ok"
	}

	if h.rdb != nil {
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			status["status"] = "degraded"
			status["redis"] = err.Error()
		} else {
			status["redis"] = "ok"
		}
	}

	if pending, err := h.outboxRepo.CountByStatus(ctx, model.OutboxStatusPending); err == nil {
		status["outbox_pending"] = pending
	}

	c.JSON(200, status)
}

func proposalID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "提案 id 参数错误")
		return 0, false
	}
	return id, true
}

package service

import (
	"context"
	"testing"
	"time"

	"stakedao/internal/auth"
	"stakedao/internal/clock"
	"stakedao/internal/config"
	"stakedao/internal/infrastructure/database"
	"stakedao/internal/model"
	"stakedao/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	db        *gorm.DB
	cfg       *config.Config
	clock     *clock.Manual
	staking   *StakingService
	proposals *ProposalService
	votes     *VoteService
	execution *ExecutionService
	outbox    *repository.OutboxRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	cfg := config.Default()
	cfg.Retry.InitialInterval = time.Millisecond
	cfg.Retry.MaxInterval = 5 * time.Millisecond
	clk := clock.NewManual(testStart)

	return &testEnv{
		db:        db,
		cfg:       cfg,
		clock:     clk,
		staking:   NewStakingService(db, cfg, clk, nil),
		proposals: NewProposalService(db, cfg, clk),
		votes:     NewVoteService(db, cfg, clk),
		execution: NewExecutionService(db, cfg, clk),
		outbox:    repository.NewOutboxRepository(db),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (e *testEnv) stake(t *testing.T, userID int64, amount string) {
	t.Helper()
	_, err := e.staking.Stake(context.Background(), userID, dec(amount))
	require.NoError(t, err)
}

// createProposal 创建人先质押 1000，执行时间为投票截止后一天
func (e *testEnv) createProposal(t *testing.T, creatorID int64, proposalType string) *model.DAOProposal {
	t.Helper()
	e.stake(t, creatorID, "1000")

	req := &CreateProposalRequest{
		Title:         "提案",
		Description:   "描述",
		ProposalType:  proposalType,
		ExecutionTime: e.clock.Now().Add(e.cfg.Governance.VotingPeriod + 24*time.Hour),
	}
	if proposalType == model.ProposalTypeTreasury {
		amount := dec("500")
		req.TargetAmount = &amount
	}

	p, err := e.proposals.Create(context.Background(), creatorID, req)
	require.NoError(t, err)
	return p
}

// passedProposal 一票赞成后按简单多数结算，返回 PASSED 提案
func (e *testEnv) passedProposal(t *testing.T, proposalType string) *model.DAOProposal {
	t.Helper()
	e.proposals.WithPolicy(SimpleMajority)

	p := e.createProposal(t, 1, proposalType)
	_, err := e.votes.CastVote(context.Background(), p.ID, auth.Identity{UserID: 2}, model.VoteFor)
	require.NoError(t, err)

	e.clock.Set(p.VotingDeadline)
	resolved, err := e.proposals.Resolve(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, model.ProposalStatusPassed, resolved.Status)
	return resolved
}

var admin = auth.Identity{UserID: 99, Capabilities: []string{auth.CapabilityAdmin}}

package service

import (
	"context"
	"testing"
	"time"

	"stakedao/internal/auth"
	"stakedao/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func proposalRequest(env *testEnv, proposalType string) *CreateProposalRequest {
	return &CreateProposalRequest{
		Title:         "调整奖励参数",
		ProposalType:  proposalType,
		ExecutionTime: env.clock.Now().Add(8 * 24 * time.Hour),
	}
}

func TestCreateProposal_StakeThreshold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.proposals.Create(ctx, 1, proposalRequest(env, model.ProposalTypeGovernance))
	assert.ErrorIs(t, err, ErrInsufficientStake, "没有质押账户")

	env.stake(t, 1, "999")
	_, err = env.proposals.Create(ctx, 1, proposalRequest(env, model.ProposalTypeGovernance))
	assert.ErrorIs(t, err, ErrInsufficientStake)

	env.stake(t, 1, "1")
	p, err := env.proposals.Create(ctx, 1, proposalRequest(env, model.ProposalTypeGovernance))
	require.NoError(t, err)
	assert.Equal(t, model.ProposalStatusActive, p.Status)
	assert.True(t, p.VotingDeadline.Equal(testStart.Add(7*24*time.Hour)))
	assert.Zero(t, p.ForVotes)
	assert.Zero(t, p.AgainstVotes)

	stored, err := env.proposals.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "调整奖励参数", stored.Title)
	assert.Equal(t, int64(1), stored.CreatorID)

	events, err := env.outbox.ListByEventType(ctx, EventProposalCreated)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCreateProposal_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.stake(t, 1, "1000")
	ctx := context.Background()

	early := proposalRequest(env, model.ProposalTypeGovernance)
	early.ExecutionTime = env.clock.Now().Add(24 * time.Hour)
	_, err := env.proposals.Create(ctx, 1, early)
	assert.ErrorIs(t, err, ErrInvalidProposal, "执行时间早于投票截止")

	_, err = env.proposals.Create(ctx, 1, proposalRequest(env, "AIRDROP"))
	assert.ErrorIs(t, err, ErrInvalidProposal)

	_, err = env.proposals.Create(ctx, 1, proposalRequest(env, model.ProposalTypeTreasury))
	assert.ErrorIs(t, err, ErrInvalidProposal, "国库提案缺少金额")

	negative := proposalRequest(env, model.ProposalTypeTreasury)
	amount := dec("-5")
	negative.TargetAmount = &amount
	_, err = env.proposals.Create(ctx, 1, negative)
	assert.ErrorIs(t, err, ErrInvalidProposal)

	tooFine := proposalRequest(env, model.ProposalTypeTreasury)
	amount = dec("0.0000000000000000001")
	tooFine.TargetAmount = &amount
	_, err = env.proposals.Create(ctx, 1, tooFine)
	assert.ErrorIs(t, err, ErrInvalidProposal, "超过 18 位小数")

	blank := proposalRequest(env, model.ProposalTypeGovernance)
	blank.Title = "  "
	_, err = env.proposals.Create(ctx, 1, blank)
	assert.ErrorIs(t, err, ErrInvalidProposal)

	atDeadline := proposalRequest(env, "treasury")
	atDeadline.ExecutionTime = env.clock.Now().Add(env.cfg.Governance.VotingPeriod)
	amount = dec("100.000000000000000001")
	atDeadline.TargetAmount = &amount
	p, err := env.proposals.Create(ctx, 1, atDeadline)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalTypeTreasury, p.ProposalType)

	stored, err := env.proposals.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, amount.Equal(stored.TargetAmount.Decimal), stored.TargetAmount.Decimal.String())
}

func TestGetProposal_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.proposals.Get(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListProposals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.createProposal(t, 1, model.ProposalTypeGovernance)
	env.clock.Advance(time.Second)
	second := env.createProposal(t, 2, model.ProposalTypeTreasury)
	env.clock.Advance(time.Second)
	third := env.createProposal(t, 3, model.ProposalTypeGovernance)

	all, err := env.proposals.List(ctx, &ListProposalRequest{})
	require.NoError(t, err)
	require.Len(t, all.Items, 3)
	assert.EqualValues(t, 3, all.Total)
	assert.Equal(t, []int64{third.ID, second.ID, first.ID}, []int64{all.Items[0].ID, all.Items[1].ID, all.Items[2].ID})

	governance, err := env.proposals.List(ctx, &ListProposalRequest{ProposalType: "governance", PageSize: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, governance.Total)
	require.Len(t, governance.Items, 1)
	assert.Equal(t, third.ID, governance.Items[0].ID)

	_, err = env.proposals.List(ctx, &ListProposalRequest{Status: "DRAFT"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestResolve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := env.createProposal(t, 1, model.ProposalTypeGovernance)

	// GOVERNANCE 默认法定票数 5，通过比例 0.5；声誉 50 折合 5 票
	for _, v := range []struct {
		user   int64
		choice string
	}{{10, model.VoteFor}, {11, model.VoteFor}, {12, model.VoteAgainst}} {
		_, err := env.votes.CastVote(ctx, p.ID, auth.Identity{UserID: v.user, Reputation: 50}, v.choice)
		require.NoError(t, err)
	}

	_, err := env.proposals.Resolve(ctx, p.ID)
	assert.ErrorIs(t, err, ErrVotingInProgress)

	env.clock.Set(p.VotingDeadline)
	resolved, err := env.proposals.Resolve(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalStatusPassed, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	_, err = env.proposals.Resolve(ctx, p.ID)
	assert.ErrorIs(t, err, ErrProposalNotActive)

	_, err = env.proposals.Resolve(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)

	stored, err := env.proposals.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalStatusPassed, stored.Status)
	assert.EqualValues(t, 10, stored.ForVotes)
	assert.EqualValues(t, 5, stored.AgainstVotes)
}

func TestResolve_BelowQuorumRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := env.createProposal(t, 1, model.ProposalTypeGovernance)
	_, err := env.votes.CastVote(ctx, p.ID, auth.Identity{UserID: 10}, model.VoteFor)
	require.NoError(t, err)

	env.clock.Set(p.VotingDeadline.Add(time.Minute))
	resolved, err := env.proposals.Resolve(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalStatusRejected, resolved.Status)
}

func TestResolveExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	expired := env.createProposal(t, 1, model.ProposalTypeGovernance)
	env.clock.Advance(24 * time.Hour)
	later := env.createProposal(t, 2, model.ProposalTypeProtocol)

	env.clock.Set(expired.VotingDeadline)
	resolved, err := env.proposals.ResolveExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	p, err := env.proposals.Get(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalStatusRejected, p.Status)

	p, err = env.proposals.Get(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalStatusActive, p.Status)

	resolved, err = env.proposals.ResolveExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)
}

package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stakedao/internal/auth"
	"stakedao/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCastVote_PowerSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := env.createProposal(t, 1, model.ProposalTypeGovernance)
	env.stake(t, 2, "1500")

	result, err := env.votes.CastVote(ctx, p.ID, auth.Identity{UserID: 2}, model.VoteFor)
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.VotingPower)

	result, err = env.votes.CastVote(ctx, p.ID, auth.Identity{UserID: 3, Reputation: 25}, model.VoteAgainst)
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.VotingPower)

	// 投票后追加质押不影响已记录的权重
	env.stake(t, 2, "5000")
	vote, err := env.votes.GetVote(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, vote.VotingPower)
	assert.Equal(t, model.VoteFor, vote.Vote)

	tally, err := env.votes.GetTally(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, tally.ForVotes)
	assert.EqualValues(t, 2, tally.AgainstVotes)
	assert.EqualValues(t, 3, tally.TotalVotes)

	_, err = env.votes.GetVote(ctx, p.ID, 4)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCastVote_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	voter := auth.Identity{UserID: 2}

	_, err := env.votes.CastVote(ctx, 404, voter, model.VoteFor)
	assert.ErrorIs(t, err, ErrNotFound)

	p := env.createProposal(t, 1, model.ProposalTypeGovernance)

	_, err = env.votes.CastVote(ctx, p.ID, voter, "abstain")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = env.votes.CastVote(ctx, p.ID, voter, model.VoteFor)
	require.NoError(t, err)
	_, err = env.votes.CastVote(ctx, p.ID, voter, model.VoteAgainst)
	assert.ErrorIs(t, err, ErrAlreadyVoted)

	env.clock.Set(p.VotingDeadline)
	_, err = env.votes.CastVote(ctx, p.ID, auth.Identity{UserID: 3}, model.VoteFor)
	assert.ErrorIs(t, err, ErrProposalNotActive, "截止时刻起不再接受投票")

	tally, err := env.votes.GetTally(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, tally.ForVotes)
	assert.EqualValues(t, 0, tally.AgainstVotes)
}

func TestCastVote_ConcurrentDuplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := env.createProposal(t, 1, model.ProposalTypeGovernance)
	voter := auth.Identity{UserID: 7, Reputation: 40}

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.votes.CastVote(ctx, p.ID, voter, model.VoteFor)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success, duplicate := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			success++
		case assert.ErrorIs(t, err, ErrAlreadyVoted):
			duplicate++
		}
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, n-1, duplicate)

	tally, err := env.votes.GetTally(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, tally.ForVotes)
}

// 查重之后、写入之前插入一条冲突记录，模拟另一个事务抢先提交，由唯一索引兜底
func TestCastVote_UniqueIndexFallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := env.createProposal(t, 1, model.ProposalTypeGovernance)
	voter := auth.Identity{UserID: 9, Reputation: 40}

	var injected atomic.Bool
	err := env.db.Callback().Create().Before("gorm:create").Register("test:conflicting_vote", func(tx *gorm.DB) {
		if tx.Statement.Table != "dao_vote" || !injected.CompareAndSwap(false, true) {
			return
		}
		err := tx.Session(&gorm.Session{NewDB: true}).
			Exec("INSERT INTO dao_vote (proposal_id, user_id, vote, voting_power, created_at) VALUES (?, ?, ?, ?, ?)",
				p.ID, voter.UserID, model.VoteAgainst, 1, env.clock.Now()).Error
		if err != nil {
			_ = tx.AddError(err)
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.db.Callback().Create().Remove("test:conflicting_vote") })

	_, err = env.votes.CastVote(ctx, p.ID, voter, model.VoteFor)
	assert.ErrorIs(t, err, ErrAlreadyVoted)
	assert.True(t, injected.Load())

	tally, err := env.votes.GetTally(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, tally.ForVotes)
	assert.EqualValues(t, 0, tally.AgainstVotes)

	// 整个事务回滚，插入的冲突记录也不会留下
	_, err = env.votes.GetVote(ctx, p.ID, voter.UserID)
	assert.ErrorIs(t, err, ErrNotFound)

	result, err := env.votes.CastVote(ctx, p.ID, voter, model.VoteFor)
	require.NoError(t, err)
	assert.EqualValues(t, 4, result.VotingPower)
}

func TestTallyConsistency(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := env.createProposal(t, 1, model.ProposalTypeGovernance)
	env.stake(t, 20, "3000")

	voters := []struct {
		id         int64
		reputation int64
		choice     string
	}{
		{20, 0, model.VoteFor},
		{21, 15, model.VoteFor},
		{22, 100, model.VoteAgainst},
		{23, 0, model.VoteAgainst},
	}

	var wg sync.WaitGroup
	for _, v := range voters {
		wg.Add(1)
		go func(id, reputation int64, choice string) {
			defer wg.Done()
			_, err := env.votes.CastVote(ctx, p.ID, auth.Identity{UserID: id, Reputation: reputation}, choice)
			assert.NoError(t, err)
		}(v.id, v.reputation, v.choice)
	}
	wg.Wait()

	audit, err := env.votes.AuditTally(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, audit.Consistent)
	assert.EqualValues(t, 3+1, audit.ForVotes)
	assert.EqualValues(t, 10+1, audit.AgainstVotes)

	votes, err := env.votes.ListVotes(ctx, p.ID, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 4, votes.Total)

	events, err := env.outbox.ListByEventType(ctx, EventVoteCast)
	require.NoError(t, err)
	assert.Len(t, events, 4)
}

func TestCastVote_ClosedAfterResolve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := env.passedProposal(t, model.ProposalTypeGovernance)

	// 即使时钟回拨，结算后的提案也不再接受投票
	env.clock.Set(p.VotingDeadline.Add(-time.Hour))
	_, err := env.votes.CastVote(ctx, p.ID, auth.Identity{UserID: 50}, model.VoteAgainst)
	assert.ErrorIs(t, err, ErrProposalNotActive)
}

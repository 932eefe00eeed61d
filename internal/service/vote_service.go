package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stakedao/internal/auth"
	"stakedao/internal/clock"
	"stakedao/internal/config"
	"stakedao/internal/infrastructure/database"
	"stakedao/internal/infrastructure/metrics"
	"stakedao/internal/model"
	"stakedao/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// VoteService 投票和计票
//
// 【关键点】每人每个提案只计一票：
//   - 事务内先查一次，给出明确的 ALREADY_VOTED
//   - 并发时由 (proposal_id, user_id) 唯一索引兜底，冲突同样转换为 ALREADY_VOTED
//   - 投票记录和票数累计在同一事务，票数永远等于投票权重之和
type VoteService struct {
	txRunner     *database.TxRunner
	clock        clock.Clock
	cfg          *config.Config
	proposalRepo *repository.ProposalRepository
	voteRepo     *repository.VoteRepository
	stakingRepo  *repository.StakingRepository
	events       eventWriter
}

func NewVoteService(db *gorm.DB, cfg *config.Config, clk clock.Clock) *VoteService {
	return &VoteService{
		txRunner:     database.NewTxRunner(db, cfg.Retry),
		clock:        clk,
		cfg:          cfg,
		proposalRepo: repository.NewProposalRepository(db),
		voteRepo:     repository.NewVoteRepository(db),
		stakingRepo:  repository.NewStakingRepository(db),
		events:       eventWriter{outboxRepo: repository.NewOutboxRepository(db)},
	}
}

type VoteResult struct {
	ProposalID  int64  `json:"proposal_id"`
	Vote        string `json:"vote"`
	VotingPower int64  `json:"voting_power"`
}

type Tally struct {
	ProposalID     int64     `json:"proposal_id"`
	Status         string    `json:"status"`
	ForVotes       int64     `json:"for_votes"`
	AgainstVotes   int64     `json:"against_votes"`
	TotalVotes     int64     `json:"total_votes"`
	VotingDeadline time.Time `json:"voting_deadline"`
}

type TallyAudit struct {
	ProposalID        int64 `json:"proposal_id"`
	ForVotes          int64 `json:"for_votes"`
	AgainstVotes      int64 `json:"against_votes"`
	RecordedForPower  int64 `json:"recorded_for_power"`
	RecordedAgstPower int64 `json:"recorded_against_power"`
	Consistent        bool  `json:"consistent"`
}

// PowerOf 按当前质押和声誉计算调用方的投票权重
func (s *VoteService) PowerOf(ctx context.Context, voter auth.Identity) (int64, error) {
	staked := decimal.Zero
	account, err := s.stakingRepo.GetByUserID(ctx, voter.UserID)
	switch {
	case err == nil:
		staked = account.StakedAmount
	case errors.Is(err, repository.ErrStakingAccountNotFound):
	default:
		return 0, translateError(fmt.Errorf("查询质押账户失败: %w", err))
	}
	return VotingPower(staked, voter.Reputation), nil
}

func (s *VoteService) CastVote(ctx context.Context, proposalID int64, voter auth.Identity, choice string) (*VoteResult, error) {
	if !model.IsValidVoteChoice(choice) {
		return nil, newError(KindInvalidArgument, "vote 必须是 for 或 against")
	}

	ctx, cancel := withTimeout(ctx, s.cfg.Business.OpTimeout)
	defer cancel()

	// 权重快照在事务外计算，投票记录里保存的就是这个值
	power, err := s.PowerOf(ctx, voter)
	if err != nil {
		return nil, err
	}

	err = s.txRunner.Run(ctx, "cast_vote", func(tx *gorm.DB) error {
		now := s.clock.Now()

		proposal, err := s.proposalRepo.GetByIDForUpdate(ctx, tx, proposalID)
		if err != nil {
			if errors.Is(err, repository.ErrProposalNotFound) {
				return newError(KindNotFound, "提案不存在")
			}
			return err
		}

		if proposal.Status != model.ProposalStatusActive || !now.Before(proposal.VotingDeadline) {
			return ErrProposalNotActive
		}

		existing, err := s.voteRepo.GetByProposalAndUser(ctx, tx, proposalID, voter.UserID)
		if err != nil {
			return fmt.Errorf("查询投票记录失败: %w", err)
		}
		if existing != nil {
			return ErrAlreadyVoted
		}

		vote := &model.DAOVote{
			ProposalID:  proposalID,
			UserID:      voter.UserID,
			Vote:        choice,
			VotingPower: power,
			CreatedAt:   now,
		}
		if err := s.voteRepo.Create(ctx, tx, vote); err != nil {
			if errors.Is(err, repository.ErrDuplicateVote) {
				return ErrAlreadyVoted
			}
			return fmt.Errorf("写入投票记录失败: %w", err)
		}

		if err := s.proposalRepo.AddVotes(ctx, tx, proposalID, choice, power); err != nil {
			if errors.Is(err, repository.ErrProposalStatusInvalid) {
				return ErrProposalNotActive
			}
			return fmt.Errorf("累计票数失败: %w", err)
		}

		payload := map[string]interface{}{
			"proposal_id":  proposalID,
			"user_id":      voter.UserID,
			"vote":         choice,
			"voting_power": power,
		}
		return s.events.write(ctx, tx, proposalTarget(s.cfg.Kafka.Topic.GovernanceEvent, proposalID), EventVoteCast, payload, now)
	})

	metrics.RecordGovernanceOp("cast_vote", err)
	if err != nil {
		return nil, translateError(err)
	}

	zap.L().Info("投票成功",
		zap.Int64("proposal_id", proposalID),
		zap.Int64("user_id", voter.UserID),
		zap.String("vote", choice),
		zap.Int64("voting_power", power))

	return &VoteResult{ProposalID: proposalID, Vote: choice, VotingPower: power}, nil
}

// GetTally 直接读提案上的累计票数
func (s *VoteService) GetTally(ctx context.Context, proposalID int64) (*Tally, error) {
	proposal, err := s.proposalRepo.GetByID(ctx, proposalID)
	if err != nil {
		if errors.Is(err, repository.ErrProposalNotFound) {
			return nil, newError(KindNotFound, "提案不存在")
		}
		return nil, translateError(err)
	}

	return &Tally{
		ProposalID:     proposal.ID,
		Status:         proposal.Status,
		ForVotes:       proposal.ForVotes,
		AgainstVotes:   proposal.AgainstVotes,
		TotalVotes:     proposal.TotalVotes(),
		VotingDeadline: proposal.VotingDeadline,
	}, nil
}

func (s *VoteService) GetVote(ctx context.Context, proposalID, userID int64) (*model.DAOVote, error) {
	vote, err := s.voteRepo.GetByProposalAndUser(ctx, nil, proposalID, userID)
	if err != nil {
		return nil, translateError(err)
	}
	if vote == nil {
		return nil, newError(KindNotFound, "投票记录不存在")
	}
	return vote, nil
}

func (s *VoteService) ListVotes(ctx context.Context, proposalID int64, page, pageSize int) (*PageResult[*model.DAOVote], error) {
	page, pageSize = normalizePage(page, pageSize)

	items, total, err := s.voteRepo.ListByProposal(ctx, proposalID, page, pageSize)
	if err != nil {
		return nil, translateError(fmt.Errorf("查询投票记录失败: %w", err))
	}
	return &PageResult[*model.DAOVote]{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// AuditTally 核对累计票数和投票记录的权重之和
func (s *VoteService) AuditTally(ctx context.Context, proposalID int64) (*TallyAudit, error) {
	tally, err := s.GetTally(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	forPower, againstPower, err := s.voteRepo.SumPower(ctx, proposalID)
	if err != nil {
		return nil, translateError(fmt.Errorf("汇总投票权重失败: %w", err))
	}

	audit := &TallyAudit{
		ProposalID:        proposalID,
		ForVotes:          tally.ForVotes,
		AgainstVotes:      tally.AgainstVotes,
		RecordedForPower:  forPower,
		RecordedAgstPower: againstPower,
		Consistent:        tally.ForVotes == forPower && tally.AgainstVotes == againstPower,
	}
	if !audit.Consistent {
		zap.L().Error("提案票数和投票记录不一致",
			zap.Int64("proposal_id", proposalID),
			zap.Int64("for_votes", tally.ForVotes),
			zap.Int64("recorded_for_power", forPower),
			zap.Int64("against_votes", tally.AgainstVotes),
			zap.Int64("recorded_against_power", againstPower))
	}
	return audit, nil
}

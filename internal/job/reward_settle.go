package job

import (
	"context"

	"stakedao/internal/service"

	"go.uber.org/zap"
)

// RewardSettleJob 把已满周期的质押奖励写回账户
type RewardSettleJob struct {
	stakingSvc *service.StakingService
	batchSize  int
}

func NewRewardSettleJob(stakingSvc *service.StakingService, batchSize int) *RewardSettleJob {
	return &RewardSettleJob{stakingSvc: stakingSvc, batchSize: batchSize}
}

func (j *RewardSettleJob) Name() string {
	return "reward_settle"
}

func (j *RewardSettleJob) Execute(ctx context.Context) error {
	settled, err := j.stakingSvc.SettleDueRewards(ctx, j.batchSize)
	if err != nil {
		return err
	}
	if settled > 0 {
		zap.L().Info("[RewardSettleJob] 奖励结算完成", zap.Int("accounts", settled))
	}
	return nil
}

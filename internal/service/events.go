package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stakedao/internal/model"
	"stakedao/internal/repository"
	"stakedao/pkg/idgen"

	"gorm.io/gorm"
)

// 通过 outbox 发往 Kafka 的事件类型
const (
	EventStake            = "stake"
	EventUnstake          = "unstake"
	EventClaimRewards     = "claim_rewards"
	EventProposalCreated  = "proposal_created"
	EventVoteCast         = "vote_cast"
	EventProposalResolved = "proposal_resolved"
	EventProposalExecuted = "proposal_executed"
	EventTreasuryTransfer = "treasury_transfer"
)

// eventWriter 在业务事务内写 outbox 消息
type eventWriter struct {
	outboxRepo *repository.OutboxRepository
}

// eventTarget 事件的 topic 和聚合根
type eventTarget struct {
	topic         string
	aggregateType string
	aggregateID   int64
}

func stakingTarget(topic string, userID int64) eventTarget {
	return eventTarget{topic: topic, aggregateType: model.AggregateStakingAccount, aggregateID: userID}
}

func proposalTarget(topic string, proposalID int64) eventTarget {
	return eventTarget{topic: topic, aggregateType: model.AggregateProposal, aggregateID: proposalID}
}

func (w eventWriter) write(ctx context.Context, tx *gorm.DB, target eventTarget, eventType string, payload map[string]interface{}, at time.Time) error {
	eventID := idgen.GenerateEventID(eventType)
	payload["event_type"] = eventType
	payload["event_id"] = eventID
	payload["occurred_at"] = at.Format(time.RFC3339)

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := &model.OutboxMessage{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: target.aggregateType,
		AggregateID:   target.aggregateID,
		Topic:         target.topic,
		MessageKey:    model.PartitionKey(target.aggregateType, target.aggregateID),
		Payload:       string(payloadBytes),
		Status:        model.OutboxStatusPending,
	}
	if err := w.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

package model

import (
	"strconv"
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 事件所属的聚合根
const (
	AggregateStakingAccount = "staking_account"
	AggregateProposal       = "proposal"
)

// OutboxMessage 领域事件，和触发它的余额或提案变更在同一事务写入
//
// MessageKey 是 Kafka 分区 key，由聚合根生成，同一账户或同一提案的事件按写入顺序进入同一分区。
// EventID 全局唯一，消费方用它去重
type OutboxMessage struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID       string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"event_id"`
	EventType     string     `gorm:"type:varchar(32);index;not null" json:"event_type"`
	AggregateType string     `gorm:"type:varchar(32);index:idx_outbox_aggregate;not null" json:"aggregate_type"`
	AggregateID   int64      `gorm:"index:idx_outbox_aggregate;not null" json:"aggregate_id"`
	Topic         string     `gorm:"type:varchar(64);not null" json:"topic"`
	MessageKey    string     `gorm:"type:varchar(64);not null" json:"message_key"`
	Payload       string     `gorm:"type:text;not null" json:"payload"`
	Status        string     `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount    int        `gorm:"not null;default:0" json:"retry_count"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// PartitionKey 同一聚合根的事件使用相同的 Kafka key
func PartitionKey(aggregateType string, aggregateID int64) string {
	return aggregateType + ":" + strconv.FormatInt(aggregateID, 10)
}

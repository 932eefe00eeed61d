package job

import (
	"context"
	"sync"
	"time"

	"stakedao/internal/config"
	"stakedao/internal/infrastructure/metrics"
	"stakedao/internal/infrastructure/mq"
	"stakedao/internal/model"
	"stakedao/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OutboxSender 把 outbox 表里的待投递消息发到 Kafka
//
// 投递是至少一次：发送成功但更新状态失败时，下一轮会重发，消费方按 event_id 去重
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	cfg        *config.Config
	stopCh     chan struct{}
	stopOnce   sync.Once
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.Config) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		interval:   100 * time.Millisecond,
		batchSize:  cfg.Job.BatchSize,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	zap.L().Info("[OutboxSender] 消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			zap.L().Info("[OutboxSender] 任务停止")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// ProcessPending 发送一批待投递消息，返回发送成功的条数
func (s *OutboxSender) ProcessPending(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		zap.L().Error("[OutboxSender] 查询消息失败", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)
	metrics.RecordOutbox(err)

	if err == nil {
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID, time.Now().UTC()); updateErr != nil {
			zap.L().Error("[OutboxSender] 更新消息状态失败", zap.Int64("id", msg.ID), zap.Error(updateErr))
		} else {
			zap.L().Debug("[OutboxSender] 消息发送成功",
				zap.Int64("id", msg.ID),
				zap.String("topic", msg.Topic),
				zap.String("event_id", msg.EventID),
				zap.String("key", msg.MessageKey))
		}
		return true
	}

	zap.L().Warn("[OutboxSender] 消息发送失败", zap.Int64("id", msg.ID), zap.Error(err))

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			zap.L().Error("[OutboxSender] 标记消息失败状态失败", zap.Int64("id", msg.ID), zap.Error(err))
		} else {
			zap.L().Error("[OutboxSender] 消息超过最大重试次数，标记为失败",
				zap.Int64("id", msg.ID),
				zap.String("event_type", msg.EventType))
		}
		return false
	}

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		zap.L().Error("[OutboxSender] 增加重试次数失败", zap.Int64("id", msg.ID), zap.Error(err))
	}
	return false
}

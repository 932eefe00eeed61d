package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"stakedao/internal/config"
	"stakedao/internal/infrastructure/database"
	"stakedao/internal/infrastructure/mq"
	"stakedao/internal/model"
	"stakedao/internal/repository"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedOutbox(t *testing.T, repo *repository.OutboxRepository, n int) []*model.OutboxMessage {
	t.Helper()
	msgs := make([]*model.OutboxMessage, 0, n)
	for i := 0; i < n; i++ {
		msg := &model.OutboxMessage{
			EventID:       fmt.Sprintf("stake_%d", i),
			EventType:     "stake",
			AggregateType: model.AggregateStakingAccount,
			AggregateID:   1,
			Topic:         "staking_event",
			MessageKey:    model.PartitionKey(model.AggregateStakingAccount, 1),
			Payload:       `{"event_type":"stake","user_id":1}`,
			Status:        model.OutboxStatusPending,
		}
		require.NoError(t, repo.Create(context.Background(), nil, msg))
		msgs = append(msgs, msg)
	}
	return msgs
}

func statusOf(t *testing.T, db *gorm.DB, id int64) model.OutboxMessage {
	t.Helper()
	var msg model.OutboxMessage
	require.NoError(t, db.First(&msg, id).Error)
	return msg
}

func TestOutboxSender_ProcessPending(t *testing.T) {
	db := openTestDB(t)
	repo := repository.NewOutboxRepository(db)
	msgs := seedOutbox(t, repo, 2)

	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if !strings.Contains(string(val), `"event_type":"stake"`) {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})
	producer.ExpectSendMessageAndSucceed()

	sender := NewOutboxSender(db, mq.NewProducer(producer), config.Default())
	assert.Equal(t, 2, sender.ProcessPending(context.Background()))

	for _, m := range msgs {
		stored := statusOf(t, db, m.ID)
		assert.Equal(t, model.OutboxStatusSent, stored.Status)
		assert.NotNil(t, stored.SentAt)
	}
	assert.Equal(t, 0, sender.ProcessPending(context.Background()))
}

func TestOutboxSender_RetryThenFail(t *testing.T) {
	db := openTestDB(t)
	repo := repository.NewOutboxRepository(db)
	msg := seedOutbox(t, repo, 1)[0]

	cfg := config.Default()
	cfg.Business.MaxRetryCount = 2

	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sender := NewOutboxSender(db, mq.NewProducer(producer), cfg)

	assert.Equal(t, 0, sender.ProcessPending(context.Background()))
	stored := statusOf(t, db, msg.ID)
	assert.Equal(t, model.OutboxStatusPending, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)

	assert.Equal(t, 0, sender.ProcessPending(context.Background()))
	assert.Equal(t, model.OutboxStatusFailed, statusOf(t, db, msg.ID).Status)

	// FAILED 的消息不再投递
	assert.Equal(t, 0, sender.ProcessPending(context.Background()))
}

func TestOutboxSender_StartStop(t *testing.T) {
	db := openTestDB(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	repo := repository.NewOutboxRepository(db)
	msg := seedOutbox(t, repo, 1)[0]

	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()
	producer.ExpectSendMessageAndSucceed()

	sender := NewOutboxSender(db, mq.NewProducer(producer), config.Default())
	sender.interval = 5 * time.Millisecond

	done := make(chan struct{})
	go func() {
		sender.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		return statusOf(t, db, msg.ID).Status == model.OutboxStatusSent
	}, 2*time.Second, 10*time.Millisecond)

	sender.Stop()
	sender.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OutboxSender 没有退出")
	}
}

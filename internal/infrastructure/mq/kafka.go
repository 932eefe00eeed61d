package mq

import (
	"fmt"

	"stakedao/internal/config"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Publisher 事件投递接口，OutboxSender 依赖它而不是具体的 Kafka 实现
type Publisher interface {
	Publish(topic, key, value string) error
}

// Producer 基于 sarama 同步生产者的 Publisher
type Producer struct {
	producer sarama.SyncProducer
}

// InitKafka 初始化 Kafka 生产者
func InitKafka(cfg *config.KafkaConfig) (*Producer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3                    // 重试次数
	kafkaConfig.Producer.Return.Successes = true          // 返回成功消息
	kafkaConfig.Producer.Idempotent = true
	kafkaConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}

	zap.L().Info("Kafka 生产者创建成功", zap.Strings("brokers", cfg.Brokers))
	return NewProducer(producer), nil
}

func NewProducer(producer sarama.SyncProducer) *Producer {
	return &Producer{producer: producer}
}

// Publish 发送消息到 Kafka，key 相同的消息进入同一分区，保证同一实体的事件有序
func (p *Producer) Publish(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	_, _, err := p.producer.SendMessage(msg)
	return err
}

// Close 关闭 Kafka 生产者
func (p *Producer) Close() {
	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			zap.L().Warn("关闭 Kafka 生产者失败", zap.Error(err))
		}
	}
}

// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"zerotrace-go/internal/config"
	"zerotrace-go/pkg/log"
)

// TranscriptEvent 是一次完成的问答交互，发往 Kafka 供离线分析。
type TranscriptEvent struct {
	ConversationID string    `json:"conversation_id"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	Model          string    `json:"model"`
	Timestamp      time.Time `json:"timestamp"`
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。Brokers 为空时跳过，上报退化为 no-op。
func InitProducer(cfg config.KafkaConfig) {
	if cfg.Brokers == "" {
		log.Info("Kafka 未配置，跳过对话事件上报")
		return
	}
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceTranscript 发送一条对话事件到 Kafka，尽力而为：失败只记日志。
func ProduceTranscript(event TranscriptEvent) {
	if producer == nil {
		return
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		log.Errorf("序列化对话事件失败: %v", err)
		return
	}

	err = producer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(event.ConversationID),
			Value: eventBytes,
		},
	)
	if err != nil {
		log.Errorf("发送对话事件失败: %v", err)
	}
}

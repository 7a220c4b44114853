package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-activity/internal/logger"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes JSON payloads; the topic is chosen per message.
type Producer struct {
	writer messageWriter
	logger *logger.Logger
}

func NewProducer(brokers []string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
	}
	return &Producer{writer: writer, logger: log}
}

// Publish marshals payload and writes it keyed by key, so one event's
// messages stay on one partition.
func (p *Producer) Publish(ctx context.Context, topic, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	p.logger.LogKafka("PUBLISH", topic, fmt.Sprintf("key=%s bytes=%d", key, len(value)))
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

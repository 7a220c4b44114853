package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-activity/internal/logger"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one message. Returning an error makes the consumer retry
// the same message; nothing after it is fetched until it succeeds.
type Handler func(ctx context.Context, msg kafka.Message) error

type Consumer struct {
	reader  messageReader
	logger  *logger.Logger
	backoff time.Duration
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, logger: log, backoff: time.Second}
}

// Start consumes until ctx is cancelled, committing each message after the
// handler accepts it.
func (c *Consumer) Start(ctx context.Context, handle Handler) error {
	c.logger.Info("KAFKA", "🔄 Kafka consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("KAFKA", fmt.Sprintf("Error reading message: %v", err))
			if !c.sleep(ctx) {
				return nil
			}
			continue
		}

		if !c.handleUntilDone(ctx, msg, handle) {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("KAFKA", fmt.Sprintf("Commit failed for %s@%d: %v", msg.Topic, msg.Offset, err))
		}
	}
}

// handleUntilDone retries msg with backoff until the handler accepts it.
// Moving past a failed message would let a later commit cover its offset.
// It reports false when ctx ends first.
func (c *Consumer) handleUntilDone(ctx context.Context, msg kafka.Message, handle Handler) bool {
	for attempt := 1; ; attempt++ {
		err := handle(ctx, msg)
		if err == nil {
			return true
		}
		c.logger.Error("KAFKA", fmt.Sprintf("Handler failed for %s@%d (attempt %d): %v", msg.Topic, msg.Offset, attempt, err))
		if !c.sleep(ctx) {
			return false
		}
	}
}

func (c *Consumer) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.backoff):
		return true
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}

package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-activity/internal/activity"
	"ms-activity/internal/logger"
	"ms-activity/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// KafkaSink publishes confirmations keyed by event so one event's payments
// are consumed in order.
type KafkaSink struct {
	Publisher Publisher
	Topic     string
}

func (k *KafkaSink) Confirm(ctx context.Context, c models.PaymentConfirmation) error {
	return k.Publisher.Publish(ctx, k.Topic, c.EventID, c)
}

type Admitter interface {
	AdmitViaPayment(ctx context.Context, eventID, userID string) (*activity.Result, error)
}

// Confirmer applies confirmations to the coordinator. It is both the
// in-process ConfirmationSink and the body of the kafka handler.
type Confirmer struct {
	admitter Admitter
	logger   *logger.Logger
	attempts int
	backoff  time.Duration
}

func NewConfirmer(admitter Admitter, log *logger.Logger) *Confirmer {
	return &Confirmer{admitter: admitter, logger: log, attempts: 3, backoff: 200 * time.Millisecond}
}

// Confirm admits the payer. Business rejections are final: they are logged
// and swallowed so the confirmation is not retried forever. Only contention
// and infrastructure errors are returned.
func (c *Confirmer) Confirm(ctx context.Context, conf models.PaymentConfirmation) error {
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		_, err = c.admitter.AdmitViaPayment(ctx, conf.EventID, conf.UserID)
		if err == nil {
			c.logger.Info("PAYMENT", fmt.Sprintf("Admitted %s to %s via payment %s", conf.UserID, conf.EventID, conf.SessionID))
			return nil
		}
		if !errors.Is(err, activity.ErrConcurrentModification) {
			break
		}
		c.logger.Warn("PAYMENT", fmt.Sprintf("Contention admitting %s to %s (attempt %d/%d)", conf.UserID, conf.EventID, attempt, c.attempts))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}

	if isFinal(err) {
		c.logger.Error("PAYMENT", fmt.Sprintf("Payment %s for %s/%s not admitted: %v", conf.SessionID, conf.EventID, conf.UserID, err))
		return nil
	}
	return err
}

func isFinal(err error) bool {
	for _, target := range []error{
		activity.ErrEventNotFound,
		activity.ErrEventNotPaid,
		activity.ErrEventClosed,
		activity.ErrCapacityExceeded,
		activity.ErrSelfJoinDenied,
		activity.ErrInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// KafkaHandler decodes confirmation messages for the kafka consumer. Messages
// that cannot be decoded are dropped.
func (c *Confirmer) KafkaHandler() func(ctx context.Context, msg kafka.Message) error {
	return func(ctx context.Context, msg kafka.Message) error {
		var conf models.PaymentConfirmation
		if err := json.Unmarshal(msg.Value, &conf); err != nil {
			c.logger.Error("PAYMENT", fmt.Sprintf("Dropping undecodable confirmation at offset %d: %v", msg.Offset, err))
			return nil
		}
		return c.Confirm(ctx, conf)
	}
}

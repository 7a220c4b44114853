// Package natsbus publishes fan-out messages to NATS subjects.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher writes JSON payloads to subject "<topic>.<key>" so subscribers
// can filter one event with a wildcard such as "activity.events.*".
type Publisher struct {
	conn *nats.Conn
}

func NewPublisher(url string, opts ...nats.Option) (*Publisher, error) {
	defaults := []nats.Option{
		nats.Name("activity-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &Publisher{conn: nc}, nil
}

func (p *Publisher) Publish(ctx context.Context, topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	subject := topic
	if key != "" {
		subject = topic + "." + key
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		return p.conn.FlushTimeout(time.Until(deadline))
	}
	return nil
}

func (p *Publisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-activity/internal/logger"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducer_PublishSetsTopicKeyAndJSON(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, logger: logger.NewNop()}

	err := p.Publish(context.Background(), "activity.notifications", "evt-1", map[string]any{"type": "request_received"})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "activity.notifications", msg.Topic)
	assert.Equal(t, []byte("evt-1"), msg.Key)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "request_received", decoded["type"])
}

func TestProducer_PublishErrors(t *testing.T) {
	p := &Producer{writer: &fakeWriter{err: errors.New("broker down")}, logger: logger.NewNop()}
	assert.Error(t, p.Publish(context.Background(), "t", "k", "v"))

	p = &Producer{writer: &fakeWriter{}, logger: logger.NewNop()}
	assert.Error(t, p.Publish(context.Background(), "t", "k", make(chan int)), "unmarshalable payload")
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			msg := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return msg, nil
		}
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestConsumer_RetriesFailedMessageBeforeMovingOn(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
	c := &Consumer{reader: r, logger: logger.NewNop(), backoff: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		handled []int64
	)
	failures := 2
	done := make(chan error, 1)
	go func() {
		done <- c.Start(ctx, func(_ context.Context, msg kafka.Message) error {
			mu.Lock()
			defer mu.Unlock()
			handled = append(handled, msg.Offset)
			if msg.Offset == 2 && failures > 0 {
				failures--
				return errors.New("transient")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(r.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3}, r.commits())
	mu.Lock()
	assert.Equal(t, []int64{1, 2, 2, 2, 3}, handled, "offset 2 is retried before 3 is fetched")
	mu.Unlock()
}

func TestConsumer_StopsRetryingWhenCancelled(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 1}, {Offset: 2}}}
	c := &Consumer{reader: r, logger: logger.NewNop(), backoff: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan int64, 100)
	done := make(chan error, 1)
	go func() {
		done <- c.Start(ctx, func(_ context.Context, msg kafka.Message) error {
			select {
			case calls <- msg.Offset:
			default:
			}
			return errors.New("down")
		})
	}()

	require.Eventually(t, func() bool { return len(calls) >= 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Empty(t, r.commits())
	close(calls)
	for off := range calls {
		assert.Equal(t, int64(1), off, "nothing past the failing message is handled")
	}
}

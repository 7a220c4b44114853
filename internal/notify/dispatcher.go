package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ms-activity/internal/logger"
	"ms-activity/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
	Close() error
}

type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
}

type Pusher interface {
	PushToUser(userID, event string, data any) int
	Broadcast(event string, data any) int
}

type Topics struct {
	Notifications string
	Broadcasts    string
	Reconcile     string
}

// NopPublisher drops every message. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, string, any) error { return nil }
func (NopPublisher) Close() error                                       { return nil }

// Dispatcher delivers coordinator effects on a worker pool. Dispatch never
// blocks the caller and delivery failures are only logged.
type Dispatcher struct {
	store     NotificationStore
	pusher    Pusher
	publisher Publisher
	topics    Topics
	logger    *logger.Logger
	timeout   time.Duration

	queue  chan models.Effect
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

func NewDispatcher(store NotificationStore, pusher Pusher, publisher Publisher, topics Topics, log *logger.Logger, opts Options) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	d := &Dispatcher{
		store:     store,
		pusher:    pusher,
		publisher: publisher,
		topics:    topics,
		logger:    log,
		timeout:   opts.Timeout,
		queue:     make(chan models.Effect, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) Dispatch(effects ...models.Effect) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("NOTIFY", fmt.Sprintf("dispatcher closed, dropping %d effects", len(effects)))
		return
	}
	for _, e := range effects {
		select {
		case d.queue <- e:
		default:
			d.logger.Error("NOTIFY", fmt.Sprintf("queue full, dropping %s for %s", e.Type, e.RecipientID))
		}
	}
}

// Close stops accepting effects and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for e := range d.queue {
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e models.Effect) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	switch e.Kind {
	case models.EffectNotify:
		d.notify(ctx, e)
	case models.EffectPush:
		n := d.pusher.PushToUser(e.RecipientID, e.Type, pushData(e))
		d.logger.LogNotify(e.Type, e.RecipientID, fmt.Sprintf("pushed to %d connections", n))
	case models.EffectBroadcast:
		d.pusher.Broadcast(e.Type, pushData(e))
		d.publish(ctx, d.topics.Broadcasts, e.EventID, e)
	case models.EffectPublish:
		topic := d.topics.Broadcasts
		if e.Type == models.EffectPaymentReconciliation {
			topic = d.topics.Reconcile
		}
		d.publish(ctx, topic, e.EventID, e)
	default:
		d.logger.Warn("NOTIFY", fmt.Sprintf("unknown effect kind %q", e.Kind))
	}
}

func (d *Dispatcher) notify(ctx context.Context, e models.Effect) {
	typ := models.NotificationType(e.Type)
	title, body, err := BuildTitleBody(typ, e.Payload)
	if err != nil {
		d.logger.Error("NOTIFY", fmt.Sprintf("cannot render %s: %v", e.Type, err))
		return
	}
	n := &models.Notification{
		ID:          uuid.New().String(),
		RecipientID: e.RecipientID,
		Type:        typ,
		EventID:     e.EventID,
		ActorID:     e.ActorID,
		Title:       title,
		Body:        body,
		Payload:     e.Payload,
		CreatedAt:   time.Now().UTC(),
	}

	if err := d.store.Create(ctx, n); err != nil {
		d.logger.Error("NOTIFY", fmt.Sprintf("persist %s for %s: %v", e.Type, e.RecipientID, err))
	} else {
		d.logger.LogNotify(e.Type, e.RecipientID, "stored")
	}
	d.pusher.PushToUser(e.RecipientID, models.PushNotification, n)
	d.publish(ctx, d.topics.Notifications, e.EventID, n)
}

func (d *Dispatcher) publish(ctx context.Context, topic, key string, payload any) {
	if topic == "" {
		return
	}
	if err := d.publisher.Publish(ctx, topic, key, payload); err != nil {
		d.logger.Error("NOTIFY", fmt.Sprintf("publish to %s failed: %v", topic, err))
	}
}

func pushData(e models.Effect) map[string]any {
	data := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		data[k] = v
	}
	if e.EventID != "" {
		data["event_id"] = e.EventID
	}
	return data
}

package models

import (
	"time"

	"github.com/uptrace/bun"
)

type NotificationType string

const (
	NotifyRequestReceived NotificationType = "request_received"
	NotifyRequestApproved NotificationType = "request_approved"
	NotifyRequestRejected NotificationType = "request_rejected"
	NotifyEventCompleted  NotificationType = "event_completed"
	NotifyEventCancelled  NotificationType = "event_cancelled"
)

// Real-time payload names pushed over the stream.
const (
	PushNotification   = "notification"
	PushUserRated      = "userRated"
	PushNewEvent       = "newEvent"
	PushCategoryCounts = "categoryCountsUpdated"
	PushEventUpdated   = "eventUpdated"
)

type EffectKind string

const (
	// EffectNotify persists a notification for RecipientID and pushes it.
	EffectNotify EffectKind = "notify"
	// EffectPush is a best-effort push to RecipientID only.
	EffectPush EffectKind = "push"
	// EffectBroadcast is a best-effort push to every connected client.
	EffectBroadcast EffectKind = "broadcast"
	// EffectPublish goes to the broker only.
	EffectPublish EffectKind = "publish"
)

// EffectPaymentReconciliation is the publish-only effect raised for a settled
// payment that could not be admitted.
const EffectPaymentReconciliation = "payment_reconciliation"

// Effect is an outbound side effect produced by a committed coordinator
// operation. Effects are delivered after the commit and never roll it back.
type Effect struct {
	Kind        EffectKind     `json:"kind"`
	Type        string         `json:"type"`
	RecipientID string         `json:"recipient_id,omitempty"`
	EventID     string         `json:"event_id,omitempty"`
	ActorID     string         `json:"actor_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Notification is the persisted form of an EffectNotify.
type Notification struct {
	bun.BaseModel `bun:"table:notifications"`

	ID          string           `bun:"id,pk" json:"id"`
	RecipientID string           `bun:"recipient_id,notnull" json:"recipient_id"`
	Type        NotificationType `bun:"type,notnull" json:"type"`
	EventID     string           `bun:"event_id" json:"event_id,omitempty"`
	ActorID     string           `bun:"actor_id" json:"actor_id,omitempty"`
	Title       string           `bun:"title" json:"title"`
	Body        string           `bun:"body" json:"body"`
	Payload     map[string]any   `bun:"payload" json:"payload,omitempty"`
	Read        bool             `bun:"read,notnull" json:"read"`
	CreatedAt   time.Time        `bun:"created_at,notnull" json:"created_at"`
}

package models

import (
	"time"

	"github.com/uptrace/bun"
)

type EventStatus string

const (
	EventLive      EventStatus = "live"
	EventFull      EventStatus = "full"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
)

// IsTerminal reports whether no transition leaves the status.
func (s EventStatus) IsTerminal() bool {
	return s == EventCompleted || s == EventCancelled
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// Request is one user's entry in an event's ledger. Requests are never deleted.
type Request struct {
	UserID      string        `json:"user_id"`
	Status      RequestStatus `json:"status"`
	RequestedAt time.Time     `json:"requested_at"`
	DecidedAt   *time.Time    `json:"decided_at,omitempty"`
	ViaPayment  bool          `json:"via_payment,omitempty"`
}

// Event is the single source of truth for an activity's capacity state.
// Requests and RatedBy are stored as JSON columns embedded in the row and
// Version guards every write with a compare-and-swap.
type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID           string      `bun:"id,pk" json:"id"`
	CreatorID    string      `bun:"creator_id,notnull" json:"creator_id"`
	Title        string      `bun:"title,notnull" json:"title"`
	Description  string      `bun:"description" json:"description"`
	Category     string      `bun:"category" json:"category"`
	Location     string      `bun:"location" json:"location"`
	StartsAt     time.Time   `bun:"starts_at,nullzero" json:"starts_at,omitempty"`
	Capacity     int         `bun:"capacity,notnull" json:"required_people"`
	IsPaid       bool        `bun:"is_paid,notnull" json:"is_paid"`
	Amount       float64     `bun:"amount" json:"amount"`
	Status       EventStatus `bun:"status,notnull" json:"status"`
	CancelReason string      `bun:"cancel_reason" json:"cancel_reason,omitempty"`
	Requests     []Request   `bun:"requests" json:"requests"`
	RatedBy      []string    `bun:"rated_by" json:"rated_by"`
	Version      int64       `bun:"version,notnull" json:"version"`
	CreatedAt    time.Time   `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt    time.Time   `bun:"updated_at,notnull" json:"updated_at"`
}

// FindRequest returns the ledger entry for userID, or nil.
func (e *Event) FindRequest(userID string) *Request {
	for i := range e.Requests {
		if e.Requests[i].UserID == userID {
			return &e.Requests[i]
		}
	}
	return nil
}

// HasRated reports whether userID already rated on this event.
func (e *Event) HasRated(userID string) bool {
	for _, id := range e.RatedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// ApprovedParticipants returns the user ids of approved requests in arrival order.
func (e *Event) ApprovedParticipants() []string {
	ids := make([]string, 0, len(e.Requests))
	for _, r := range e.Requests {
		if r.Status == RequestApproved {
			ids = append(ids, r.UserID)
		}
	}
	return ids
}

// CreateEventInput carries the host-supplied fields fixed at event birth.
type CreateEventInput struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Location    string    `json:"location"`
	StartsAt    time.Time `json:"starts_at"`
	Capacity    int       `json:"required_people"`
	IsPaid      bool      `json:"is_paid"`
	Amount      float64   `json:"amount"`
}

// EventFilter narrows ListEvents. Empty fields match everything.
type EventFilter struct {
	Category  string
	Status    EventStatus
	CreatorID string
	Limit     int
}

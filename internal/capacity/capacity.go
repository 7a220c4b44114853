// Package capacity derives occupancy figures and status from an event's
// request ledger. Every function is pure and total over a well-formed event.
package capacity

import (
	"math"
	"time"

	"ms-activity/internal/models"
)

// DisplayExpired is shown for live or full events whose start time has
// passed. It is never stored.
const DisplayExpired = "expired"

type Summary struct {
	Capacity      int    `json:"required_people"`
	Approved      int    `json:"approved_count"`
	Pending       int    `json:"pending_count"`
	SpotsLeft     int    `json:"spots_left"`
	PercentFilled int    `json:"percent_filled"`
	IsFull        bool   `json:"is_full"`
	IsExpired     bool   `json:"is_expired"`
	Status        string `json:"display_status"`
}

func ApprovedCount(ev *models.Event) int {
	return countStatus(ev, models.RequestApproved)
}

func PendingCount(ev *models.Event) int {
	return countStatus(ev, models.RequestPending)
}

func countStatus(ev *models.Event, status models.RequestStatus) int {
	n := 0
	for _, r := range ev.Requests {
		if r.Status == status {
			n++
		}
	}
	return n
}

// SpotsLeft is capacity minus approved, floored at zero.
func SpotsLeft(ev *models.Event) int {
	left := ev.Capacity - ApprovedCount(ev)
	if left < 0 {
		return 0
	}
	return left
}

func IsFull(ev *models.Event) bool {
	return SpotsLeft(ev) == 0
}

func PercentFilled(ev *models.Event) int {
	if ev.Capacity <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(ApprovedCount(ev)) / float64(ev.Capacity)))
}

// DeriveStatus recomputes the stored status from the ledger. Terminal
// statuses are returned unchanged.
func DeriveStatus(ev *models.Event) models.EventStatus {
	if ev.Status.IsTerminal() {
		return ev.Status
	}
	if IsFull(ev) {
		return models.EventFull
	}
	return models.EventLive
}

// IsExpired reports whether a non-terminal event's start time is behind now.
func IsExpired(ev *models.Event, now time.Time) bool {
	if ev.Status.IsTerminal() || ev.StartsAt.IsZero() {
		return false
	}
	return ev.StartsAt.Before(now)
}

// DisplayStatus is the status shown to clients.
func DisplayStatus(ev *models.Event, now time.Time) string {
	if IsExpired(ev, now) {
		return DisplayExpired
	}
	return string(DeriveStatus(ev))
}

func Summarize(ev *models.Event, now time.Time) Summary {
	return Summary{
		Capacity:      ev.Capacity,
		Approved:      ApprovedCount(ev),
		Pending:       PendingCount(ev),
		SpotsLeft:     SpotsLeft(ev),
		PercentFilled: PercentFilled(ev),
		IsFull:        IsFull(ev),
		IsExpired:     IsExpired(ev, now),
		Status:        DisplayStatus(ev, now),
	}
}

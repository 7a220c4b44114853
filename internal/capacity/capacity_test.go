package capacity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ms-activity/internal/models"
)

func eventWith(capacity int, statuses ...models.RequestStatus) *models.Event {
	ev := &models.Event{ID: "evt-1", Capacity: capacity, Status: models.EventLive}
	for i, s := range statuses {
		ev.Requests = append(ev.Requests, models.Request{UserID: string(rune('a' + i)), Status: s})
	}
	return ev
}

func TestCounts(t *testing.T) {
	ev := eventWith(4, models.RequestApproved, models.RequestPending, models.RequestRejected, models.RequestApproved)

	assert.Equal(t, 2, ApprovedCount(ev))
	assert.Equal(t, 1, PendingCount(ev))
	assert.Equal(t, 2, SpotsLeft(ev))
	assert.False(t, IsFull(ev))
	assert.Equal(t, 50, PercentFilled(ev))
}

func TestPercentFilled_Rounds(t *testing.T) {
	assert.Equal(t, 33, PercentFilled(eventWith(3, models.RequestApproved)))
	assert.Equal(t, 67, PercentFilled(eventWith(3, models.RequestApproved, models.RequestApproved)))
	assert.Equal(t, 0, PercentFilled(eventWith(0)))
}

func TestSpotsLeft_NeverNegative(t *testing.T) {
	ev := eventWith(1, models.RequestApproved, models.RequestApproved)
	assert.Equal(t, 0, SpotsLeft(ev))
	assert.True(t, IsFull(ev))
}

func TestDeriveStatus(t *testing.T) {
	ev := eventWith(1)
	assert.Equal(t, models.EventLive, DeriveStatus(ev))

	ev.Requests = append(ev.Requests, models.Request{UserID: "u", Status: models.RequestApproved})
	assert.Equal(t, models.EventFull, DeriveStatus(ev))

	ev.Status = models.EventFull
	ev.Requests[0].Status = models.RequestRejected
	assert.Equal(t, models.EventLive, DeriveStatus(ev), "full drops back to live when a spot frees")

	for _, terminal := range []models.EventStatus{models.EventCompleted, models.EventCancelled} {
		ev.Status = terminal
		assert.Equal(t, terminal, DeriveStatus(ev))
	}
}

func TestDisplayStatus_Expired(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ev := eventWith(2)

	assert.Equal(t, "live", DisplayStatus(ev, now), "no start time never expires")

	ev.StartsAt = now.Add(-time.Hour)
	assert.True(t, IsExpired(ev, now))
	assert.Equal(t, DisplayExpired, DisplayStatus(ev, now))

	ev.Status = models.EventCompleted
	assert.False(t, IsExpired(ev, now))
	assert.Equal(t, "completed", DisplayStatus(ev, now))

	ev.Status = models.EventLive
	ev.StartsAt = now.Add(time.Hour)
	assert.Equal(t, "live", DisplayStatus(ev, now))
}

func TestSummarize(t *testing.T) {
	now := time.Now()
	ev := eventWith(2, models.RequestApproved, models.RequestApproved, models.RequestPending)

	s := Summarize(ev, now)
	assert.Equal(t, Summary{
		Capacity:      2,
		Approved:      2,
		Pending:       1,
		SpotsLeft:     0,
		PercentFilled: 100,
		IsFull:        true,
		Status:        "full",
	}, s)
}

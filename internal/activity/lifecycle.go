package activity

import (
	"fmt"
	"time"

	"ms-activity/internal/capacity"
	"ms-activity/internal/models"
)

// Ledger and state machine helpers. They mutate the event snapshot in place
// and leave persistence to the caller.

func ensureOpen(ev *models.Event) error {
	if ev.Status.IsTerminal() {
		return fmt.Errorf("%w: event %s is %s", ErrEventClosed, ev.ID, ev.Status)
	}
	return nil
}

func ensureHost(ev *models.Event, userID string) error {
	if ev.CreatorID != userID {
		return ErrNotAuthorized
	}
	return nil
}

// recompute keeps the stored status in step with the ledger.
func recompute(ev *models.Event) {
	ev.Status = capacity.DeriveStatus(ev)
}

func appendRequest(ev *models.Event, userID string, status models.RequestStatus, now time.Time) models.Request {
	req := models.Request{UserID: userID, Status: status, RequestedAt: now}
	if status != models.RequestPending {
		decided := now
		req.DecidedAt = &decided
	}
	ev.Requests = append(ev.Requests, req)
	return req
}

// admitOne checks that one more approval fits.
func admitOne(ev *models.Event) error {
	if capacity.ApprovedCount(ev)+1 > ev.Capacity {
		return fmt.Errorf("%w: %d of %d spots taken", ErrCapacityExceeded, capacity.ApprovedCount(ev), ev.Capacity)
	}
	return nil
}

func decide(req *models.Request, status models.RequestStatus, now time.Time) {
	decided := now
	req.Status = status
	req.DecidedAt = &decided
}

// finish moves a live or full event into a terminal status.
func finish(ev *models.Event, to models.EventStatus, reason string) error {
	if err := ensureOpen(ev); err != nil {
		return err
	}
	ev.Status = to
	if to == models.EventCancelled {
		ev.CancelReason = reason
	}
	return nil
}

// isMember reports whether userID is the host or an approved participant.
func isMember(ev *models.Event, userID string) bool {
	if ev.CreatorID == userID {
		return true
	}
	req := ev.FindRequest(userID)
	return req != nil && req.Status == models.RequestApproved
}

func runningAverage(oldAvg float64, oldCount, value int) float64 {
	return (oldAvg*float64(oldCount) + float64(value)) / float64(oldCount+1)
}

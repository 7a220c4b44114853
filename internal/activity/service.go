package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-activity/internal/capacity"
	"ms-activity/internal/logger"
	"ms-activity/internal/models"
)

const DefaultMaxRetries = 5

type EventStore interface {
	CreateEvent(ctx context.Context, ev *models.Event) error
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	ListEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, error)
	CountByCategory(ctx context.Context) (map[string]int, error)
	// UpdateEvent writes ev only if the stored version still equals
	// expectedVersion, otherwise it returns ErrVersionConflict.
	UpdateEvent(ctx context.Context, ev *models.Event, expectedVersion int64) error
	// GetUser returns a zero-rated user with Version 0 when none is stored.
	GetUser(ctx context.Context, id string) (*models.User, error)
	// ApplyRating commits the user aggregate and the event's ratedBy in one
	// transaction, each guarded by its own version.
	ApplyRating(ctx context.Context, ev *models.Event, eventVersion int64, user *models.User, userVersion int64) error
}

type Dispatcher interface {
	Dispatch(effects ...models.Effect)
}

// Result is returned by ledger mutations.
type Result struct {
	Event   *models.Event   `json:"event"`
	Request *models.Request `json:"request,omitempty"`
}

// EventView is an event plus its derived capacity figures.
type EventView struct {
	*models.Event
	Summary capacity.Summary `json:"capacity"`
}

type Service struct {
	Store      EventStore
	Locks      Locker
	Dispatcher Dispatcher
	Logger     *logger.Logger
	MaxRetries int

	now   func() time.Time
	newID func() string
}

func NewService(store EventStore, locks Locker, dispatcher Dispatcher, log *logger.Logger, maxRetries int) *Service {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		Store:      store,
		Locks:      locks,
		Dispatcher: dispatcher,
		Logger:     log,
		MaxRetries: maxRetries,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.New().String() },
	}
}

// errNoChange lets a mutation finish successfully without a write.
var errNoChange = errors.New("no change")

type mutation func(ev *models.Event, now time.Time) ([]models.Effect, error)

// mutateEvent holds the event lock and runs read, validate, mutate and a
// version-checked write, re-reading on conflict. Effects are handed to the
// dispatcher only after the write commits.
func (s *Service) mutateEvent(ctx context.Context, op, eventID string, fn mutation) (*models.Event, error) {
	release, err := s.acquire(ctx, eventLockKey(eventID))
	if err != nil {
		return nil, err
	}
	defer release()

	for attempt := 1; attempt <= s.MaxRetries; attempt++ {
		ev, err := s.Store.GetEvent(ctx, eventID)
		if err != nil {
			return nil, err
		}
		expected := ev.Version
		now := s.now()

		effects, err := fn(ev, now)
		if errors.Is(err, errNoChange) {
			return ev, nil
		}
		if err != nil {
			s.Logger.LogEvent(op, eventID, "rejected: "+err.Error())
			return nil, err
		}

		ev.UpdatedAt = now
		err = s.Store.UpdateEvent(ctx, ev, expected)
		if errors.Is(err, ErrVersionConflict) {
			s.Logger.Warn("COORDINATOR", fmt.Sprintf("[%s] %s - version %d conflict, attempt %d/%d", op, eventID, expected, attempt, s.MaxRetries))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update event %s: %w", eventID, err)
		}

		s.Logger.LogEvent(op, eventID, fmt.Sprintf("committed version %d status %s", ev.Version, ev.Status))
		s.dispatch(effects...)
		return ev, nil
	}

	s.Logger.Error("COORDINATOR", fmt.Sprintf("[%s] %s - retries exhausted", op, eventID))
	return nil, ErrConcurrentModification
}

func (s *Service) acquire(ctx context.Context, key string) (func(), error) {
	if s.Locks == nil {
		return func() {}, nil
	}
	release, err := s.Locks.Acquire(ctx, key)
	if errors.Is(err, ErrLockTimeout) {
		s.Logger.Warn("LOCK", err.Error())
		return nil, fmt.Errorf("%w: %v", ErrConcurrentModification, err)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	s.Logger.LogLock("ACQUIRE", key, "held")
	return func() {
		release()
		s.Logger.LogLock("RELEASE", key, "released")
	}, nil
}

func (s *Service) dispatch(effects ...models.Effect) {
	if s.Dispatcher == nil || len(effects) == 0 {
		return
	}
	s.Dispatcher.Dispatch(effects...)
}

// ---------------- EVENTS ----------------

// CreateEvent opens a new live event owned by hostID.
func (s *Service) CreateEvent(ctx context.Context, hostID string, in models.CreateEventInput) (*EventView, error) {
	title := strings.TrimSpace(in.Title)
	switch {
	case hostID == "":
		return nil, ErrNotAuthorized
	case title == "":
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	case in.Capacity <= 0:
		return nil, fmt.Errorf("%w: required_people must be positive", ErrInvalidInput)
	case in.IsPaid && in.Amount <= 0:
		return nil, fmt.Errorf("%w: paid events need a positive amount", ErrInvalidInput)
	case in.Amount < 0:
		return nil, fmt.Errorf("%w: amount cannot be negative", ErrInvalidInput)
	}

	now := s.now()
	ev := &models.Event{
		ID:          s.newID(),
		CreatorID:   hostID,
		Title:       title,
		Description: in.Description,
		Category:    strings.ToLower(strings.TrimSpace(in.Category)),
		Location:    in.Location,
		StartsAt:    in.StartsAt,
		Capacity:    in.Capacity,
		IsPaid:      in.IsPaid,
		Status:      models.EventLive,
		Requests:    []models.Request{},
		RatedBy:     []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.IsPaid {
		ev.Amount = in.Amount
	}

	if err := s.Store.CreateEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	s.Logger.LogEvent("CREATE", ev.ID, fmt.Sprintf("host %s capacity %d paid %t", hostID, ev.Capacity, ev.IsPaid))

	view := s.view(ev)
	s.dispatch(models.Effect{
		Kind:    models.EffectBroadcast,
		Type:    models.PushNewEvent,
		EventID: ev.ID,
		ActorID: hostID,
		Payload: map[string]any{"event": view},
	})
	s.broadcastCategoryCounts(ctx)
	return view, nil
}

func (s *Service) GetEvent(ctx context.Context, id string) (*EventView, error) {
	ev, err := s.Store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ev), nil
}

func (s *Service) ListEvents(ctx context.Context, filter models.EventFilter) ([]EventView, error) {
	events, err := s.Store.ListEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	views := make([]EventView, 0, len(events))
	for i := range events {
		views = append(views, *s.view(&events[i]))
	}
	return views, nil
}

// CategoryCounts returns the number of live or full events per category.
func (s *Service) CategoryCounts(ctx context.Context) (map[string]int, error) {
	return s.Store.CountByCategory(ctx)
}

func (s *Service) view(ev *models.Event) *EventView {
	return &EventView{Event: ev, Summary: capacity.Summarize(ev, s.now())}
}

func (s *Service) broadcastCategoryCounts(ctx context.Context) {
	counts, err := s.Store.CountByCategory(ctx)
	if err != nil {
		s.Logger.Warn("COORDINATOR", "category counts unavailable: "+err.Error())
		return
	}
	s.dispatch(models.Effect{
		Kind:    models.EffectBroadcast,
		Type:    models.PushCategoryCounts,
		Payload: map[string]any{"counts": counts},
	})
}

func eventUpdated(ev *models.Event, now time.Time) models.Effect {
	return models.Effect{
		Kind:    models.EffectBroadcast,
		Type:    models.PushEventUpdated,
		EventID: ev.ID,
		Payload: map[string]any{
			"status":   ev.Status,
			"capacity": capacity.Summarize(ev, now),
		},
	}
}

// ---------------- REQUESTS ----------------

// SubmitJoinRequest appends a pending request for userID. Full events still
// accept requests; capacity is enforced at approval.
func (s *Service) SubmitJoinRequest(ctx context.Context, eventID, userID string) (*Result, error) {
	var created models.Request
	ev, err := s.mutateEvent(ctx, "JOIN", eventID, func(ev *models.Event, now time.Time) ([]models.Effect, error) {
		if err := ensureOpen(ev); err != nil {
			return nil, err
		}
		if ev.CreatorID == userID {
			return nil, ErrSelfJoinDenied
		}
		if ev.FindRequest(userID) != nil {
			return nil, ErrDuplicateRequest
		}
		created = appendRequest(ev, userID, models.RequestPending, now)
		return []models.Effect{
			{
				Kind:        models.EffectNotify,
				Type:        string(models.NotifyRequestReceived),
				RecipientID: ev.CreatorID,
				EventID:     ev.ID,
				ActorID:     userID,
				Payload:     map[string]any{"event_title": ev.Title, "requester_id": userID},
			},
			eventUpdated(ev, now),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Event: ev, Request: &created}, nil
}

// RespondToRequest lets the host approve or reject a pending request.
func (s *Service) RespondToRequest(ctx context.Context, eventID, targetUserID string, decision models.RequestStatus, actingUserID string) (*Result, error) {
	if decision != models.RequestApproved && decision != models.RequestRejected {
		return nil, fmt.Errorf("%w: decision must be approved or rejected", ErrInvalidInput)
	}

	var decided models.Request
	ev, err := s.mutateEvent(ctx, "RESPOND", eventID, func(ev *models.Event, now time.Time) ([]models.Effect, error) {
		if err := ensureHost(ev, actingUserID); err != nil {
			return nil, err
		}
		if err := ensureOpen(ev); err != nil {
			return nil, err
		}
		req := ev.FindRequest(targetUserID)
		if req == nil || req.Status != models.RequestPending {
			return nil, ErrRequestNotFound
		}
		if decision == models.RequestApproved {
			if err := admitOne(ev); err != nil {
				return nil, err
			}
		}
		decide(req, decision, now)
		decided = *req
		recompute(ev)

		notification := models.NotifyRequestApproved
		if decision == models.RequestRejected {
			notification = models.NotifyRequestRejected
		}
		return []models.Effect{
			{
				Kind:        models.EffectNotify,
				Type:        string(notification),
				RecipientID: targetUserID,
				EventID:     ev.ID,
				ActorID:     actingUserID,
				Payload:     map[string]any{"event_title": ev.Title},
			},
			eventUpdated(ev, now),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Event: ev, Request: &decided}, nil
}

// AdmitViaPayment approves userID on a paid event after settlement was
// confirmed elsewhere. Payment bypasses host approval but never capacity. A
// payment that cannot be admitted is flagged for reconciliation.
func (s *Service) AdmitViaPayment(ctx context.Context, eventID, userID string) (*Result, error) {
	var admitted models.Request
	ev, err := s.mutateEvent(ctx, "ADMIT", eventID, func(ev *models.Event, now time.Time) ([]models.Effect, error) {
		if !ev.IsPaid {
			return nil, ErrEventNotPaid
		}
		if err := ensureOpen(ev); err != nil {
			return nil, err
		}
		if ev.CreatorID == userID {
			return nil, ErrSelfJoinDenied
		}

		req := ev.FindRequest(userID)
		if req != nil && req.Status == models.RequestApproved {
			admitted = *req
			return nil, errNoChange
		}
		if err := admitOne(ev); err != nil {
			return nil, err
		}
		if req == nil {
			admitted = appendRequest(ev, userID, models.RequestApproved, now)
			ev.Requests[len(ev.Requests)-1].ViaPayment = true
			admitted.ViaPayment = true
		} else {
			decide(req, models.RequestApproved, now)
			req.ViaPayment = true
			admitted = *req
		}
		recompute(ev)

		return []models.Effect{
			{
				Kind:        models.EffectNotify,
				Type:        string(models.NotifyRequestApproved),
				RecipientID: userID,
				EventID:     ev.ID,
				Payload:     map[string]any{"event_title": ev.Title, "via_payment": true},
			},
			eventUpdated(ev, now),
		}, nil
	})

	if settledButRejected(err) {
		s.Logger.Warn("PAYMENT", fmt.Sprintf("event %s user %s paid but not admitted: %v", eventID, userID, err))
		s.dispatch(models.Effect{
			Kind:        models.EffectPublish,
			Type:        models.EffectPaymentReconciliation,
			RecipientID: userID,
			EventID:     eventID,
			Payload: map[string]any{
				"reconciliation": models.PaymentReconciliation{EventID: eventID, UserID: userID, Reason: err.Error()},
			},
		})
	}
	if err != nil {
		return nil, err
	}
	return &Result{Event: ev, Request: &admitted}, nil
}

// settledButRejected reports whether err permanently refuses a payment that
// already settled. Contention and infrastructure errors are not included;
// the caller retries those.
func settledButRejected(err error) bool {
	for _, target := range []error{
		ErrCapacityExceeded,
		ErrEventClosed,
		ErrEventNotFound,
		ErrEventNotPaid,
		ErrSelfJoinDenied,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ---------------- LIFECYCLE ----------------

// CompleteEvent freezes the ledger and opens the rating workflow.
func (s *Service) CompleteEvent(ctx context.Context, eventID, actingUserID string) (*models.Event, error) {
	ev, err := s.mutateEvent(ctx, "COMPLETE", eventID, func(ev *models.Event, now time.Time) ([]models.Effect, error) {
		if err := ensureHost(ev, actingUserID); err != nil {
			return nil, err
		}
		if err := finish(ev, models.EventCompleted, ""); err != nil {
			return nil, err
		}
		return append(participantEffects(ev, models.NotifyEventCompleted, nil), eventUpdated(ev, now)), nil
	})
	if err != nil {
		return nil, err
	}
	s.broadcastCategoryCounts(ctx)
	return ev, nil
}

// CancelEvent closes the event with a reason shown to participants.
func (s *Service) CancelEvent(ctx context.Context, eventID, actingUserID, reason string) (*models.Event, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: cancellation reason is required", ErrInvalidInput)
	}
	ev, err := s.mutateEvent(ctx, "CANCEL", eventID, func(ev *models.Event, now time.Time) ([]models.Effect, error) {
		if err := ensureHost(ev, actingUserID); err != nil {
			return nil, err
		}
		if err := finish(ev, models.EventCancelled, reason); err != nil {
			return nil, err
		}
		extra := map[string]any{"reason": reason}
		return append(participantEffects(ev, models.NotifyEventCancelled, extra), eventUpdated(ev, now)), nil
	})
	if err != nil {
		return nil, err
	}
	s.broadcastCategoryCounts(ctx)
	return ev, nil
}

func participantEffects(ev *models.Event, kind models.NotificationType, extra map[string]any) []models.Effect {
	participants := ev.ApprovedParticipants()
	effects := make([]models.Effect, 0, len(participants)+1)
	for _, userID := range participants {
		payload := map[string]any{"event_title": ev.Title}
		for k, v := range extra {
			payload[k] = v
		}
		effects = append(effects, models.Effect{
			Kind:        models.EffectNotify,
			Type:        string(kind),
			RecipientID: userID,
			EventID:     ev.ID,
			ActorID:     ev.CreatorID,
			Payload:     payload,
		})
	}
	return effects
}

// ---------------- RATINGS ----------------

// RecordRating applies one rating from raterID to targetUserID for a
// completed event. The user aggregate and the ratedBy entry commit together.
func (s *Service) RecordRating(ctx context.Context, eventID, raterID, targetUserID string, value int) (*models.User, error) {
	if raterID == targetUserID {
		return nil, ErrSelfRatingDenied
	}

	releaseEvent, err := s.acquire(ctx, eventLockKey(eventID))
	if err != nil {
		return nil, err
	}
	defer releaseEvent()
	releaseUser, err := s.acquire(ctx, userLockKey(targetUserID))
	if err != nil {
		return nil, err
	}
	defer releaseUser()

	for attempt := 1; attempt <= s.MaxRetries; attempt++ {
		ev, err := s.Store.GetEvent(ctx, eventID)
		if err != nil {
			return nil, err
		}
		if ev.Status != models.EventCompleted {
			return nil, ErrEventNotCompleted
		}
		if !isMember(ev, raterID) || !isMember(ev, targetUserID) {
			return nil, ErrNotAuthorized
		}
		if ev.HasRated(raterID) {
			return nil, ErrAlreadyRated
		}
		if value < 1 || value > 5 {
			return nil, ErrInvalidRating
		}

		user, err := s.Store.GetUser(ctx, targetUserID)
		if err != nil {
			return nil, fmt.Errorf("load user %s: %w", targetUserID, err)
		}
		eventVersion, userVersion := ev.Version, user.Version
		now := s.now()

		user.AverageRating = runningAverage(user.AverageRating, user.TotalRatings, value)
		user.TotalRatings++
		user.UpdatedAt = now
		ev.RatedBy = append(ev.RatedBy, raterID)
		ev.UpdatedAt = now

		err = s.Store.ApplyRating(ctx, ev, eventVersion, user, userVersion)
		if errors.Is(err, ErrVersionConflict) {
			s.Logger.Warn("COORDINATOR", fmt.Sprintf("[RATE] %s - conflict, attempt %d/%d", eventID, attempt, s.MaxRetries))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("apply rating: %w", err)
		}

		s.Logger.LogEvent("RATE", eventID, fmt.Sprintf("%s rated %s: avg %.2f over %d", raterID, targetUserID, user.AverageRating, user.TotalRatings))
		s.dispatch(models.Effect{
			Kind:        models.EffectPush,
			Type:        models.PushUserRated,
			RecipientID: targetUserID,
			EventID:     eventID,
			Payload: map[string]any{
				"average_rating": user.AverageRating,
				"total_ratings":  user.TotalRatings,
			},
		})
		return user, nil
	}

	return nil, ErrConcurrentModification
}

func (s *Service) GetUserRating(ctx context.Context, userID string) (*models.User, error) {
	return s.Store.GetUser(ctx, userID)
}

// CanHoldPass reports whether userID may fetch a participant pass: the host
// or an approved participant of an event that was not cancelled.
func CanHoldPass(ev *models.Event, userID string) bool {
	return ev.Status != models.EventCancelled && isMember(ev, userID)
}

package activity

import "errors"

// Precondition failures. Each is returned to the caller as is (or wrapped
// with context) and never retried.
var (
	ErrEventNotFound     = errors.New("event not found")
	ErrEventClosed       = errors.New("event is closed")
	ErrSelfJoinDenied    = errors.New("host cannot join own event")
	ErrDuplicateRequest  = errors.New("request already exists for this user")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrRequestNotFound   = errors.New("pending request not found")
	ErrCapacityExceeded  = errors.New("event capacity exceeded")
	ErrSelfRatingDenied  = errors.New("cannot rate yourself")
	ErrAlreadyRated      = errors.New("already rated for this event")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5")
	ErrEventNotPaid      = errors.New("event does not take payment")
	ErrEventNotCompleted = errors.New("event is not completed")
	ErrInvalidInput      = errors.New("invalid input")
)

// ErrConcurrentModification is returned once optimistic retries are
// exhausted or the per-event lock could not be taken in time. The caller may
// retry the whole operation.
var ErrConcurrentModification = errors.New("concurrent modification, please try again")

// Store and lock level signals. These never reach HTTP callers.
var (
	ErrVersionConflict = errors.New("version conflict")
	ErrLockTimeout     = errors.New("lock wait timeout")
)

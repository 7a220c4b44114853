package activity

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Locker serializes mutations on a key across callers. Acquire blocks until
// the key is held or the wait expires (ErrLockTimeout); the returned func
// releases it.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// KeyedLocker is an in-process Locker for single instance deployments.
type KeyedLocker struct {
	mu   sync.Mutex
	keys map[string]*keyEntry
	wait time.Duration
}

type keyEntry struct {
	sem  chan struct{}
	refs int
}

func NewKeyedLocker(wait time.Duration) *KeyedLocker {
	return &KeyedLocker{keys: make(map[string]*keyEntry), wait: wait}
}

func (l *KeyedLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &keyEntry{sem: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				l.unref(key, e)
			})
		}, nil
	case <-ctx.Done():
		l.unref(key, e)
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
	}
}

func (l *KeyedLocker) unref(key string, e *keyEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

func eventLockKey(eventID string) string { return "event:" + eventID }

func userLockKey(userID string) string { return "user:" + userID }

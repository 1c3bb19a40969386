// Package lock provides the per-session advisory lock that serializes
// checkpoint creation.
//
// KeyedLocker serializes callers inside one process. FileLocker adds a
// flock(2) lock file per session so several processes sharing one state
// directory serialize too. Both bound the wait: when it expires the
// caller gets ErrLockTimeout and is expected to skip the guarded work.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/continuity/internal/sanitize"
)

// DefaultTimeout bounds lock acquisition when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// ErrLockTimeout is returned when the lock was not acquired in time.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Unlock releases a held lock. Calling it more than once is a no-op.
type Unlock func()

// Locker acquires a per-session lock.
type Locker interface {
	Lock(ctx context.Context, sessionID string) (Unlock, error)
}

// KeyedLocker is an in-process lock keyed by session ID. Sessions never
// contend with each other.
type KeyedLocker struct {
	mu      sync.Mutex
	slots   map[string]*slot
	timeout time.Duration
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedLocker creates a locker whose waits are bounded by timeout.
// A non-positive timeout uses DefaultTimeout.
func NewKeyedLocker(timeout time.Duration) *KeyedLocker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &KeyedLocker{
		slots:   make(map[string]*slot),
		timeout: timeout,
	}
}

// Timeout returns the acquisition bound.
func (l *KeyedLocker) Timeout() time.Duration { return l.timeout }

// Lock waits for the session's slot until the timeout or ctx ends.
func (l *KeyedLocker) Lock(ctx context.Context, sessionID string) (Unlock, error) {
	if err := sanitize.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	l.mu.Lock()
	s, ok := l.slots[sessionID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[sessionID] = s
	}
	s.refs++
	l.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.release(sessionID, s)
			})
		}, nil
	case <-waitCtx.Done():
		l.release(sessionID, s)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: session %s after %s", ErrLockTimeout, sessionID, l.timeout)
	}
}

func (l *KeyedLocker) release(sessionID string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, sessionID)
	}
}

var _ Locker = (*KeyedLocker)(nil)

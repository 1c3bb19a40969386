package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fyrsmithlabs/continuity/internal/sanitize"
)

const defaultRetryInterval = 20 * time.Millisecond

// FileLocker holds <dir>/<session>.lock with an exclusive flock while the
// lock is held. The kernel drops the lock when the holder exits, so a
// crashed process never wedges a session. Lock files are left in place;
// removing them would race with waiters that already opened the file.
type FileLocker struct {
	dir           string
	local         *KeyedLocker
	retryInterval time.Duration
}

// NewFileLocker creates dir if needed.
func NewFileLocker(dir string, timeout time.Duration) (*FileLocker, error) {
	if dir == "" {
		return nil, fmt.Errorf("lock dir: %w", sanitize.ErrEmptyPath)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &FileLocker{
		dir:           dir,
		local:         NewKeyedLocker(timeout),
		retryInterval: defaultRetryInterval,
	}, nil
}

// Path returns the lock file for a session.
func (l *FileLocker) Path(sessionID string) (string, error) {
	if err := sanitize.ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(l.dir, sessionID+".lock"), nil
}

// Lock takes the in-process lock first, then polls the file lock until the
// remaining time runs out.
func (l *FileLocker) Lock(ctx context.Context, sessionID string) (Unlock, error) {
	path, err := l.Path(sessionID)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(l.local.Timeout())
	unlockLocal, err := l.local.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600) // #nosec G304 -- path built from a validated session ID
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	for {
		ok, err := tryLock(f)
		if err != nil {
			_ = f.Close()
			unlockLocal()
			return nil, fmt.Errorf("failed to lock %s: %w", path, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			_ = f.Close()
			unlockLocal()
			return nil, fmt.Errorf("%w: session %s held by another process", ErrLockTimeout, sessionID)
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			unlockLocal()
			return nil, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}

	// Holder PID is informational only.
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = unlock(f)
			_ = f.Close()
			unlockLocal()
		})
	}, nil
}

var _ Locker = (*FileLocker)(nil)

package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/continuity/internal/sanitize"
)

func TestKeyedLocker_SerializesSameSession(t *testing.T) {
	l := NewKeyedLocker(time.Second)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "sess")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	l.mu.Lock()
	assert.Empty(t, l.slots, "slots are released once unused")
	l.mu.Unlock()
}

func TestKeyedLocker_Timeout(t *testing.T) {
	l := NewKeyedLocker(30 * time.Millisecond)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "sess")
	require.NoError(t, err)
	defer unlock()

	_, err = l.Lock(ctx, "sess")
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestKeyedLocker_SessionsDoNotContend(t *testing.T) {
	l := NewKeyedLocker(30 * time.Millisecond)
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestKeyedLocker_ContextCancelled(t *testing.T) {
	l := NewKeyedLocker(time.Second)

	unlock, err := l.Lock(context.Background(), "sess")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Lock(ctx, "sess")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrLockTimeout)
}

func TestKeyedLocker_UnlockIdempotent(t *testing.T) {
	l := NewKeyedLocker(time.Second)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "sess")
	require.NoError(t, err)
	unlock()
	unlock()

	unlock, err = l.Lock(ctx, "sess")
	require.NoError(t, err)
	unlock()
}

func TestKeyedLocker_InvalidSession(t *testing.T) {
	l := NewKeyedLocker(0)
	assert.Equal(t, DefaultTimeout, l.Timeout())

	_, err := l.Lock(context.Background(), "../x")
	assert.ErrorIs(t, err, sanitize.ErrInvalidSessionID)
}

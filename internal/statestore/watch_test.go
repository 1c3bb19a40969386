package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForChange(t *testing.T, ch <-chan Change, match func(Change) bool) Change {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			require.True(t, ok, "event channel closed")
			if match(c) {
				return c
			}
		case <-timeout:
			t.Fatal("timed out waiting for change")
		}
	}
}

func TestWatcher_PutAndDelete(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := s.NewWatcher(NamespaceModes, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, s.Put(ctx, NamespaceModes, "sess-w", "autopilot", []byte(`{}`)))
	c := waitForChange(t, w.Events(), func(c Change) bool {
		return c.Key == "autopilot" && c.Op == ChangePut
	})
	assert.Equal(t, "sess-w", c.SessionID)
	assert.Equal(t, NamespaceModes, c.Namespace)

	require.NoError(t, s.Put(ctx, NamespaceModes, "sess-w", "ralph", []byte(`{}`)))
	waitForChange(t, w.Events(), func(c Change) bool {
		return c.Key == "ralph" && c.Op == ChangePut
	})

	require.NoError(t, s.Delete(ctx, NamespaceModes, "sess-w", "autopilot"))
	waitForChange(t, w.Events(), func(c Change) bool {
		return c.Key == "autopilot" && c.Op == ChangeDelete
	})
}

func TestWatcher_StopClosesEvents(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	w, err := s.NewWatcher(NamespaceModes, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-w.Events():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChangeOp_String(t *testing.T) {
	assert.Equal(t, "put", ChangePut.String())
	assert.Equal(t, "delete", ChangeDelete.String())
	assert.Equal(t, "unknown", ChangeOp(9).String())
}

package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/continuity/internal/lock"
	"github.com/fyrsmithlabs/continuity/internal/sanitize"
	"github.com/fyrsmithlabs/continuity/internal/statestore"
)

func newTestService(t *testing.T, limit int, locker lock.Locker) (Service, statestore.Store) {
	t.Helper()
	store, err := statestore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	svc, err := NewService(&Config{MaxCheckpointsPerSession: limit}, store, locker, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, store
}

func TestNewService(t *testing.T) {
	store, err := statestore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	svc, err := NewService(nil, store, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, svc)

	_, err = NewService(&Config{MaxCheckpointsPerSession: 0}, store, nil, nil)
	assert.Error(t, err)

	_, err = NewService(nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestService_Create(t *testing.T) {
	svc, _ := newTestService(t, 10, nil)

	modes := map[string]ModeSnapshot{"autopilot": {Active: true}}
	cp, err := svc.Create("sess-1", TriggerCompact, Payload{
		ModeStates:    modes,
		WorkflowState: json.RawMessage(`{"step":3}`),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, cp.ID)
	assert.Equal(t, "sess-1", cp.SessionID)
	assert.Equal(t, TriggerCompact, cp.Trigger)
	assert.WithinDuration(t, time.Now(), cp.CreatedAt, 5*time.Second)
	assert.True(t, cp.ModeStates["autopilot"].Active)
	assert.JSONEq(t, `{"step":3}`, string(cp.WorkflowState))
	assert.Nil(t, cp.MemoryContext)

	modes["ralph"] = ModeSnapshot{Active: true}
	assert.NotContains(t, cp.ModeStates, "ralph", "payload map is copied")

	_, err = svc.Create("../x", TriggerManual, Payload{})
	assert.ErrorIs(t, err, sanitize.ErrInvalidSessionID)

	_, err = svc.Create("sess-1", Trigger("whenever"), Payload{})
	assert.ErrorIs(t, err, ErrInvalidTrigger)
}

func TestService_SaveLoadRoundTrip(t *testing.T) {
	svc, _ := newTestService(t, 10, nil)
	ctx := context.Background()

	cp, err := svc.Create("sess-1", TriggerManual, Payload{
		ModeStates:    map[string]ModeSnapshot{"ralph": {Active: true}, "autopilot": {Active: false}},
		MemoryContext: json.RawMessage(`["a","b"]`),
	})
	require.NoError(t, err)

	id, err := svc.Save(ctx, cp)
	require.NoError(t, err)
	assert.Equal(t, cp.ID, id)

	got, ok := svc.Load(ctx, id)
	require.True(t, ok)
	assert.Equal(t, cp.SessionID, got.SessionID)
	assert.True(t, cp.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, cp.ModeStates, got.ModeStates)
	assert.JSONEq(t, `["a","b"]`, string(got.MemoryContext))
	assert.Equal(t, []string{"ralph"}, got.ActiveModes())

	got, ok = svc.LoadForSession(ctx, "sess-1", id)
	require.True(t, ok)
	assert.Equal(t, id, got.ID)

	_, ok = svc.Load(ctx, "missing")
	assert.False(t, ok)
	_, ok = svc.Load(ctx, "../../etc/passwd")
	assert.False(t, ok)
	_, ok = svc.LoadForSession(ctx, "other", id)
	assert.False(t, ok)
}

func TestService_LatestAndListOrder(t *testing.T) {
	svc, _ := newTestService(t, 10, nil)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	var ids []string
	for _, offset := range []time.Duration{2 * time.Minute, 0, 5 * time.Minute, time.Minute} {
		cp, err := svc.Create("sess", TriggerAuto, Payload{})
		require.NoError(t, err)
		cp.CreatedAt = base.Add(offset)
		id, err := svc.Save(ctx, cp)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	latest, ok := svc.Latest(ctx, "sess")
	require.True(t, ok)
	assert.Equal(t, ids[2], latest.ID)

	list := svc.List(ctx, "sess")
	require.Len(t, list, 4)
	var got []string
	for _, cp := range list {
		got = append(got, cp.ID)
	}
	assert.Equal(t, []string{ids[2], ids[0], ids[3], ids[1]}, got)

	_, ok = svc.Latest(ctx, "empty")
	assert.False(t, ok)
	assert.Empty(t, svc.List(ctx, "empty"))
	assert.Empty(t, svc.List(ctx, "bad/session"))
}

func TestService_RetentionKeepsNewest(t *testing.T) {
	const limit = 3
	svc, _ := newTestService(t, limit, nil)
	ctx := context.Background()
	base := time.Now().UTC()

	var ids []string
	for i := 0; i < 7; i++ {
		cp, err := svc.Create("sess", TriggerCompact, Payload{})
		require.NoError(t, err)
		cp.CreatedAt = base.Add(time.Duration(i) * time.Second)
		id, err := svc.Save(ctx, cp)
		require.NoError(t, err)
		ids = append(ids, id)

		assert.LessOrEqual(t, len(svc.List(ctx, "sess")), limit)
	}

	list := svc.List(ctx, "sess")
	require.Len(t, list, limit)
	assert.Equal(t, ids[6], list[0].ID)
	assert.Equal(t, ids[5], list[1].ID)
	assert.Equal(t, ids[4], list[2].ID)

	other, err := svc.Create("other", TriggerCompact, Payload{})
	require.NoError(t, err)
	_, err = svc.Save(ctx, other)
	require.NoError(t, err)
	assert.Len(t, svc.List(ctx, "sess"), limit, "retention is per session")
}

func TestService_PruneRemovesCorrupt(t *testing.T) {
	svc, store := newTestService(t, 5, nil)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, statestore.NamespaceCheckpoints, "sess", "broken", []byte("{nope")))
	cp, err := svc.Create("sess", TriggerManual, Payload{})
	require.NoError(t, err)
	_, err = svc.Save(ctx, cp)
	require.NoError(t, err)

	keys, err := store.Keys(ctx, statestore.NamespaceCheckpoints, "sess")
	require.NoError(t, err)
	assert.Equal(t, []string{cp.ID}, keys)
}

func TestService_Delete(t *testing.T) {
	svc, _ := newTestService(t, 5, nil)
	ctx := context.Background()

	cp, err := svc.Create("sess", TriggerManual, Payload{})
	require.NoError(t, err)
	_, err = svc.Save(ctx, cp)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "sess", cp.ID))
	_, ok := svc.Load(ctx, cp.ID)
	assert.False(t, ok)

	sessions, err := svc.Sessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestService_Closed(t *testing.T) {
	svc, _ := newTestService(t, 5, nil)
	require.NoError(t, svc.Close())

	cp, err := svc.Create("sess", TriggerManual, Payload{})
	require.NoError(t, err)
	_, err = svc.Save(context.Background(), cp)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = svc.Snapshot(context.Background(), "sess", TriggerManual, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestService_SnapshotCoalescesConcurrentCalls(t *testing.T) {
	svc, _ := newTestService(t, 10, nil)
	ctx := context.Background()

	release := make(chan struct{})
	var builds int32
	build := func(context.Context) (Payload, error) {
		atomic.AddInt32(&builds, 1)
		<-release
		return Payload{ModeStates: map[string]ModeSnapshot{"autopilot": {Active: true}}}, nil
	}

	const callers = 5
	results := make([]*SnapshotResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Snapshot(ctx, "sess", TriggerCompact, build)
			if assert.NoError(t, err) {
				results[i] = res
			}
		}(i)
	}

	// Wait until the leader is inside build, then give joiners time to
	// attach to the in-flight call.
	require.Eventually(t, func() bool { return atomic.LoadInt32(&builds) == 1 }, 2*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, len(svc.List(ctx, "sess")), int(atomic.LoadInt32(&builds)))
	ids := map[string]struct{}{}
	for _, r := range results {
		require.NotNil(t, r)
		ids[r.Checkpoint.ID] = struct{}{}
	}
	assert.Len(t, svc.List(ctx, "sess"), len(ids))
}

func TestService_SnapshotJoinerSurvivesLeaderCancel(t *testing.T) {
	svc, _ := newTestService(t, 10, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var builds int32
	var buildErr atomic.Value
	build := func(ctx context.Context) (Payload, error) {
		if atomic.AddInt32(&builds, 1) == 1 {
			close(started)
		}
		<-release
		if err := ctx.Err(); err != nil {
			buildErr.Store(err)
			return Payload{}, err
		}
		return Payload{ModeStates: map[string]ModeSnapshot{"ralph": {Active: true}}}, nil
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := svc.Snapshot(leaderCtx, "sess", TriggerCompact, build)
		leaderErr <- err
	}()
	<-started

	type outcome struct {
		res *SnapshotResult
		err error
	}
	joiner := make(chan outcome, 1)
	go func() {
		res, err := svc.Snapshot(context.Background(), "sess", TriggerCompact, build)
		joiner <- outcome{res, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	got := <-joiner
	require.NoError(t, got.err)
	require.NotNil(t, got.res)
	assert.True(t, got.res.Checkpoint.ModeStates["ralph"].Active)
	assert.Nil(t, buildErr.Load(), "build must not see the leader's cancellation")

	latest, ok := svc.Latest(context.Background(), "sess")
	require.True(t, ok)
	assert.Equal(t, got.res.Checkpoint.ID, latest.ID)
}

func TestService_SnapshotBuildPanicIsError(t *testing.T) {
	svc, _ := newTestService(t, 10, nil)
	_, err := svc.Snapshot(context.Background(), "sess", TriggerCompact, func(context.Context) (Payload, error) {
		panic("collector exploded")
	})
	assert.ErrorContains(t, err, "collector exploded")
	assert.Empty(t, svc.List(context.Background(), "sess"))
}

func TestService_SnapshotDifferentSessionsIndependent(t *testing.T) {
	svc, _ := newTestService(t, 10, nil)
	ctx := context.Background()

	a, err := svc.Snapshot(ctx, "sess-a", TriggerCompact, nil)
	require.NoError(t, err)
	b, err := svc.Snapshot(ctx, "sess-b", TriggerCompact, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.Checkpoint.ID, b.Checkpoint.ID)
	assert.False(t, a.Coalesced)
	assert.Len(t, svc.List(ctx, "sess-a"), 1)
	assert.Len(t, svc.List(ctx, "sess-b"), 1)
}

func TestService_SnapshotLockTimeout(t *testing.T) {
	locker := lock.NewKeyedLocker(20 * time.Millisecond)
	svc, _ := newTestService(t, 10, locker)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "sess")
	require.NoError(t, err)
	defer unlock()

	_, err = svc.Snapshot(ctx, "sess", TriggerCompact, nil)
	assert.ErrorIs(t, err, lock.ErrLockTimeout)
	assert.Empty(t, svc.List(ctx, "sess"), "nothing is written when the lock is busy")
}

func TestService_SnapshotBuildError(t *testing.T) {
	svc, _ := newTestService(t, 10, nil)
	boom := errors.New("boom")

	_, err := svc.Snapshot(context.Background(), "sess", TriggerCompact, func(context.Context) (Payload, error) {
		return Payload{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, svc.List(context.Background(), "sess"))
}

func TestService_SnapshotValidation(t *testing.T) {
	svc, _ := newTestService(t, 10, nil)

	_, err := svc.Snapshot(context.Background(), "has spaces", TriggerCompact, nil)
	assert.ErrorIs(t, err, sanitize.ErrInvalidSessionID)

	_, err = svc.Snapshot(context.Background(), "sess", "", nil)
	assert.ErrorIs(t, err, ErrInvalidTrigger)
}

func TestService_BadgerBackend(t *testing.T) {
	store, err := statestore.OpenBadger(statestore.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	svc, err := NewService(&Config{MaxCheckpointsPerSession: 2}, store, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := svc.Snapshot(ctx, "sess", TriggerAuto, nil)
		require.NoError(t, err)
	}
	assert.Len(t, svc.List(ctx, "sess"), 2)
}

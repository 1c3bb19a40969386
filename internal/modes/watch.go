package modes

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/continuity/internal/statestore"
)

// Event reports a mode marker appearing or disappearing on disk.
type Event struct {
	SessionID string    `json:"session_id"`
	Mode      Mode      `json:"mode"`
	Active    bool      `json:"active"`
	Time      time.Time `json:"time"`
}

// Watch streams mode changes made by any process sharing the state
// directory. Only the file backend supports it. The returned stop func
// ends the stream and closes the channel.
func (r *Registry) Watch(ctx context.Context) (<-chan Event, func(), error) {
	fs, ok := r.store.(*statestore.FileStore)
	if !ok {
		return nil, nil, ErrWatchUnsupported
	}
	w, err := fs.NewWatcher(statestore.NamespaceModes, r.logger)
	if err != nil {
		return nil, nil, err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return nil, nil, err
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for c := range w.Events() {
			ev := Event{
				SessionID: c.SessionID,
				Mode:      Mode(c.Key),
				Active:    c.Op == statestore.ChangePut,
				Time:      c.Time,
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				w.Stop()
				return
			}
		}
	}()
	return out, w.Stop, nil
}

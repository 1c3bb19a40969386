package statestore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// ErrBusy is returned when another process holds the badger database
// for longer than Options.OpenTimeout.
var ErrBusy = errors.New("state store is in use by another process")

const openRetryInterval = 20 * time.Millisecond

// Options selects and configures a backend.
type Options struct {
	Backend    string
	Dir        string
	SyncWrites bool
	Logger     *zap.Logger

	// OpenTimeout bounds the wait for a badger database held by another
	// process. Badger allows one process per directory, so concurrent hook
	// processes take turns. Zero tries once.
	OpenTimeout time.Duration
}

// Open returns the configured backend rooted at opts.Dir. The badger
// database lives in <dir>/badger. Backend names are case-insensitive.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendFile:
		return NewFileStore(opts.Dir)
	case BackendBadger:
		return openBadgerShared(ctx, BadgerConfig{
			Path:       filepath.Join(opts.Dir, "badger"),
			SyncWrites: opts.SyncWrites,
			Logger:     opts.Logger,
		}, opts.OpenTimeout)
	default:
		return nil, fmt.Errorf("unknown state backend %q", opts.Backend)
	}
}

// openBadgerShared retries while another process holds the directory lock.
func openBadgerShared(ctx context.Context, cfg BadgerConfig, timeout time.Duration) (*BadgerStore, error) {
	deadline := time.Now().Add(timeout)
	for {
		s, err := OpenBadger(cfg)
		if err == nil {
			return s, nil
		}
		if !isDirLocked(err) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrBusy, cfg.Path)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrBusy, ctx.Err())
		case <-time.After(openRetryInterval):
		}
	}
}

// isDirLocked recognizes badger's directory lock failure. Badger formats
// the underlying flock error into its message instead of wrapping it.
func isDirLocked(err error) bool {
	return strings.Contains(err.Error(), "Cannot acquire directory lock")
}

package statestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/continuity/internal/sanitize"
)

// ErrWatcherFailed indicates the filesystem watcher could not start.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// ChangeOp is the kind of record change.
type ChangeOp int

const (
	ChangePut ChangeOp = iota
	ChangeDelete
)

func (op ChangeOp) String() string {
	switch op {
	case ChangePut:
		return "put"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change is one record change observed on disk.
type Change struct {
	Namespace Namespace
	SessionID string
	Key       string
	Op        ChangeOp
	Time      time.Time
}

// Watcher streams record changes for one namespace of a FileStore,
// including changes written by other processes.
type Watcher struct {
	ns      Namespace
	nsDir   string
	watcher *fsnotify.Watcher
	events  chan Change
	stop    chan struct{}
	once    sync.Once
	logger  *zap.Logger
}

// NewWatcher creates a watcher for ns. Call Start to begin streaming.
func (s *FileStore) NewWatcher(ns Namespace, logger *zap.Logger) (*Watcher, error) {
	if err := validateNamespace(ns); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &Watcher{
		ns:      ns,
		nsDir:   filepath.Join(s.root, string(ns)),
		watcher: fw,
		events:  make(chan Change, 32),
		stop:    make(chan struct{}),
		logger:  logger,
	}, nil
}

// Start watches the namespace directory and every existing session
// directory. The events channel is closed when ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.nsDir, dirPerm); err != nil {
		return fmt.Errorf("failed to create namespace directory: %w", err)
	}
	if err := w.watcher.Add(w.nsDir); err != nil {
		return fmt.Errorf("watching %s: %w", w.nsDir, err)
	}
	entries, err := os.ReadDir(w.nsDir)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() && sanitize.IsValidSessionID(e.Name()) {
			if err := w.watcher.Add(filepath.Join(w.nsDir, e.Name())); err != nil {
				w.logger.Warn("failed to watch session directory",
					zap.String("session_id", e.Name()), zap.Error(err))
			}
		}
	}

	go w.processEvents(ctx)
	return nil
}

// Stop ends watching. Safe to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
}

// Events returns the change stream.
func (w *Watcher) Events() <-chan Change {
	return w.events
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.events)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			for _, c := range w.translate(ev) {
				select {
				case w.events <- c:
				case <-w.stop:
					return
				case <-ctx.Done():
					return
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("state watcher error", zap.Error(err))
		}
	}
}

// translate maps a raw filesystem event to record changes. A new session
// directory is watched and its existing records are reported as puts,
// since they may have been written before the watch was added.
func (w *Watcher) translate(ev fsnotify.Event) []Change {
	dir := filepath.Dir(ev.Name)
	now := time.Now()

	if dir == w.nsDir {
		session := filepath.Base(ev.Name)
		if !ev.Has(fsnotify.Create) || !sanitize.IsValidSessionID(session) {
			return nil
		}
		info, err := os.Stat(ev.Name)
		if err != nil || !info.IsDir() {
			return nil
		}
		if err := w.watcher.Add(ev.Name); err != nil {
			w.logger.Warn("failed to watch session directory",
				zap.String("session_id", session), zap.Error(err))
			return nil
		}
		entries, err := os.ReadDir(ev.Name)
		if err != nil {
			return nil
		}
		var out []Change
		for _, e := range entries {
			if key, ok := recordKey(e); ok {
				out = append(out, Change{Namespace: w.ns, SessionID: session, Key: key, Op: ChangePut, Time: now})
			}
		}
		return out
	}

	if filepath.Dir(dir) != w.nsDir {
		return nil
	}
	session := filepath.Base(dir)
	name := filepath.Base(ev.Name)
	if !strings.HasSuffix(name, recordExt) {
		return nil
	}
	key := strings.TrimSuffix(name, recordExt)
	if !sanitize.IsValidSessionID(session) || sanitize.ValidateRecordKey(key) != nil {
		return nil
	}

	var op ChangeOp
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		op = ChangePut
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		op = ChangeDelete
	default:
		return nil
	}
	return []Change{{Namespace: w.ns, SessionID: session, Key: key, Op: op, Time: now}}
}

package statestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/continuity/internal/sanitize"
)

const keySep = "/"

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in memory. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's internal logs. Nil disables them.
	Logger *zap.Logger
}

// BadgerStore keeps records in an embedded badger database under keys
// "<namespace>/<session>/<key>".
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger adapts zap to badger.Logger.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.s.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }

// OpenBadger opens or creates the database.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, dirPerm); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{s: cfg.Logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func recordKeyBytes(ns Namespace, sessionID, key string) ([]byte, error) {
	if err := validateRef(ns, sessionID, key); err != nil {
		return nil, err
	}
	return []byte(string(ns) + keySep + sessionID + keySep + key), nil
}

func (s *BadgerStore) withTxn(ctx context.Context, update bool, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if s.db.IsClosed() {
		return ErrClosed
	}
	if update {
		return s.db.Update(fn)
	}
	return s.db.View(fn)
}

// Put creates or replaces a record.
func (s *BadgerStore) Put(ctx context.Context, ns Namespace, sessionID, key string, data []byte) error {
	k, err := recordKeyBytes(ns, sessionID, key)
	if err != nil {
		return err
	}
	err = s.withTxn(ctx, true, func(txn *badger.Txn) error {
		return txn.Set(k, append([]byte(nil), data...))
	})
	if err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Get reads a record.
func (s *BadgerStore) Get(ctx context.Context, ns Namespace, sessionID, key string) ([]byte, error) {
	k, err := recordKeyBytes(ns, sessionID, key)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = s.withTxn(ctx, false, func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return out, nil
}

// Delete removes a record. Missing records are not an error.
func (s *BadgerStore) Delete(ctx context.Context, ns Namespace, sessionID, key string) error {
	k, err := recordKeyBytes(ns, sessionID, key)
	if err != nil {
		return err
	}
	err = s.withTxn(ctx, true, func(txn *badger.Txn) error {
		return txn.Delete(k)
	})
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// scan iterates keys under prefix without fetching values.
func (s *BadgerStore) scan(ctx context.Context, prefix []byte, fn func(rest string)) error {
	return s.withTxn(ctx, false, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			fn(string(bytes.TrimPrefix(it.Item().Key(), prefix)))
		}
		return nil
	})
}

// Keys lists record keys for a session in lexical order.
func (s *BadgerStore) Keys(ctx context.Context, ns Namespace, sessionID string) ([]string, error) {
	if err := validateNamespace(ns); err != nil {
		return nil, err
	}
	if err := sanitize.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	prefix := []byte(string(ns) + keySep + sessionID + keySep)

	var keys []string
	err := s.scan(ctx, prefix, func(rest string) {
		keys = append(keys, rest)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return keys, nil
}

// Sessions lists sessions holding at least one record in ns.
func (s *BadgerStore) Sessions(ctx context.Context, ns Namespace) ([]string, error) {
	if err := validateNamespace(ns); err != nil {
		return nil, err
	}
	prefix := []byte(string(ns) + keySep)

	seen := make(map[string]struct{})
	err := s.scan(ctx, prefix, func(rest string) {
		if i := strings.Index(rest, keySep); i > 0 {
			seen[rest[:i]] = struct{}{}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]string, 0, len(seen))
	for id := range seen {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)
	return sessions, nil
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)

package statestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fyrsmithlabs/continuity/internal/sanitize"
)

const (
	recordExt = ".json"
	dirPerm   = 0700
	filePerm  = 0600
)

// FileStore stores one file per record.
//
// Layout:
//
//	<root>/<namespace>/<session>/<key>.json
//
// Writes go to a temp file in the target directory and are renamed into
// place, so readers never observe a partial record.
type FileStore struct {
	root   string
	closed atomic.Bool
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// NewFileStore creates the root directory if needed.
func NewFileStore(root string, opts ...FileOption) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("state root: %w", sanitize.ErrEmptyPath)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state root: %w", err)
	}
	s := &FileStore{root: abs}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(s.root, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create state root: %w", err)
	}
	return s, nil
}

// Root returns the absolute root directory.
func (s *FileStore) Root() string { return s.root }

// SessionDir returns the directory holding a session's records.
func (s *FileStore) SessionDir(ns Namespace, sessionID string) (string, error) {
	if err := validateNamespace(ns); err != nil {
		return "", err
	}
	if err := sanitize.ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	return s.contain(filepath.Join(s.root, string(ns), sessionID))
}

// RecordPath builds the path for a record. It is the only place record
// paths are built and fails with sanitize.ErrInvalidSessionID or
// sanitize.ErrInvalidKey before touching the filesystem.
func (s *FileStore) RecordPath(ns Namespace, sessionID, key string) (string, error) {
	if err := validateRef(ns, sessionID, key); err != nil {
		return "", err
	}
	return s.contain(filepath.Join(s.root, string(ns), sessionID, key+recordExt))
}

func (s *FileStore) contain(p string) (string, error) {
	return sanitize.ValidatePath(p, s.root)
}

func (s *FileStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// Put writes the record atomically.
func (s *FileStore) Put(ctx context.Context, ns Namespace, sessionID, key string, data []byte) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	path, err := s.RecordPath(ns, sessionID, key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	return atomicWrite(dir, key, path, data)
}

func atomicWrite(dir, key, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close record: %w", err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		cleanup()
		return fmt.Errorf("failed to set record permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename record: %w", err)
	}
	return nil
}

// Get reads a record.
func (s *FileStore) Get(ctx context.Context, ns Namespace, sessionID, key string) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	path, err := s.RecordPath(ns, sessionID, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path built by RecordPath
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return data, nil
}

// Delete removes a record. Missing records are not an error. The session
// directory is removed once empty.
func (s *FileStore) Delete(ctx context.Context, ns Namespace, sessionID, key string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	path, err := s.RecordPath(ns, sessionID, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	// Fails harmlessly while other records remain.
	_ = os.Remove(filepath.Dir(path))
	return nil
}

// Keys lists record keys for a session. A missing session yields no keys.
func (s *FileStore) Keys(ctx context.Context, ns Namespace, sessionID string) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	dir, err := s.SessionDir(ns, sessionID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if key, ok := recordKey(e); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// recordKey extracts the key from a directory entry, skipping temp files
// and anything that is not a valid record name.
func recordKey(e fs.DirEntry) (string, bool) {
	if e.IsDir() || !strings.HasSuffix(e.Name(), recordExt) {
		return "", false
	}
	key := strings.TrimSuffix(e.Name(), recordExt)
	if sanitize.ValidateRecordKey(key) != nil {
		return "", false
	}
	return key, true
}

// Sessions lists session directories in ns. Entries that are not valid
// session IDs are ignored.
func (s *FileStore) Sessions(ctx context.Context, ns Namespace) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if err := validateNamespace(ns); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, string(ns)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && sanitize.IsValidSessionID(e.Name()) {
			sessions = append(sessions, e.Name())
		}
	}
	sort.Strings(sessions)
	return sessions, nil
}

// Close marks the store closed. Files need no cleanup.
func (s *FileStore) Close() error {
	s.closed.Store(true)
	return nil
}

var _ Store = (*FileStore)(nil)

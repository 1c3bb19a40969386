// Package statestore persists small JSON records partitioned by namespace
// and session ID.
//
// Two backends are provided: FileStore keeps one file per record under
// <root>/<namespace>/<session>/<key>.json, and BadgerStore keeps the same
// records in an embedded key-value store. Session IDs and keys are
// validated before any path or key is built.
package statestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/continuity/internal/sanitize"
)

// Namespace partitions records by owner.
type Namespace string

const (
	NamespaceModes       Namespace = "modes"
	NamespaceCheckpoints Namespace = "checkpoints"
	NamespaceWorkflow    Namespace = "workflow"
	NamespaceMemory      Namespace = "memory"
)

var (
	// ErrNotFound is returned by Get when no record exists.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidNamespace is returned for namespaces that are not path-safe.
	ErrInvalidNamespace = errors.New("invalid namespace")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store is closed")
)

// Store is the record storage contract shared by ModeRegistry and
// CheckpointStore. Writes are visible to subsequent reads in the same
// process.
type Store interface {
	// Put creates or replaces a record.
	Put(ctx context.Context, ns Namespace, sessionID, key string, data []byte) error

	// Get returns ErrNotFound when the record does not exist.
	Get(ctx context.Context, ns Namespace, sessionID, key string) ([]byte, error)

	// Delete is idempotent.
	Delete(ctx context.Context, ns Namespace, sessionID, key string) error

	// Keys lists record keys for one session in lexical order.
	Keys(ctx context.Context, ns Namespace, sessionID string) ([]string, error)

	// Sessions lists session IDs holding at least one record in ns.
	Sessions(ctx context.Context, ns Namespace) ([]string, error)

	Close() error
}

// validateRef checks every component of a record reference.
func validateRef(ns Namespace, sessionID, key string) error {
	if err := validateNamespace(ns); err != nil {
		return err
	}
	if err := sanitize.ValidateSessionID(sessionID); err != nil {
		return err
	}
	if err := sanitize.ValidateRecordKey(key); err != nil {
		return err
	}
	return nil
}

func validateNamespace(ns Namespace) error {
	if err := sanitize.ValidateRecordKey(string(ns)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, ns)
	}
	return nil
}

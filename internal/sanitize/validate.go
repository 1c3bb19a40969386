// Package sanitize validates identifiers before they are used to build
// storage paths or keys.
package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Validation errors for security checks.
var (
	// ErrPathTraversal indicates a path contains directory traversal sequences.
	ErrPathTraversal = errors.New("path contains directory traversal")

	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")

	// ErrInvalidSessionID indicates the session ID format is invalid.
	ErrInvalidSessionID = errors.New("invalid session ID")

	// ErrInvalidKey indicates a record key format is invalid.
	ErrInvalidKey = errors.New("invalid record key")
)

// MaxIdentifierLength bounds session IDs and record keys so a single path
// component never exceeds common filesystem name limits.
const MaxIdentifierLength = 200

// identifierPattern matches session IDs and record keys. The first character
// must be alphanumeric so ".", "..", hidden files and flag-like values are
// rejected without special cases.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidateSessionID checks that id is safe to interpolate into a path.
func ValidateSessionID(id string) error {
	if err := validateIdentifier(id); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSessionID, err.Error())
	}
	return nil
}

// IsValidSessionID reports whether v is a string that passes
// ValidateSessionID. Non-string values are never valid.
func IsValidSessionID(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	return validateIdentifier(s) == nil
}

// ValidateRecordKey applies the session ID rules to a record key
// (mode name, checkpoint ID).
func ValidateRecordKey(key string) error {
	if err := validateIdentifier(key); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
	}
	return nil
}

func validateIdentifier(s string) error {
	if s == "" {
		return errors.New("empty")
	}
	if len(s) > MaxIdentifierLength {
		return fmt.Errorf("longer than %d characters", MaxIdentifierLength)
	}
	if !identifierPattern.MatchString(s) {
		return errors.New("must start with a letter or digit and contain only letters, digits, '_' or '-'")
	}
	return nil
}

// ValidatePath checks a path for security issues:
//   - No ".." path element (names such as "my..state" are fine)
//   - Resolves to absolute path and validates it stays within expected root
//   - Returns the cleaned, absolute path or an error
//
// If allowedRoot is empty, only traversal checks are performed.
// If allowedRoot is provided, the path must resolve within that directory.
func ValidatePath(path, allowedRoot string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}

	if hasParentElement(path) {
		return "", fmt.Errorf("%w: contains '..'", ErrPathTraversal)
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if allowedRoot != "" {
		absRoot, err := filepath.Abs(allowedRoot)
		if err != nil {
			return "", fmt.Errorf("failed to resolve allowed root: %w", err)
		}

		rel, err := filepath.Rel(absRoot, absPath)
		if err != nil {
			return "", fmt.Errorf("%w: path outside allowed root", ErrPathTraversal)
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: path escapes allowed root", ErrPathTraversal)
		}
	}

	return absPath, nil
}

func hasParentElement(path string) bool {
	for _, elem := range strings.Split(filepath.ToSlash(path), "/") {
		if elem == ".." {
			return true
		}
	}
	return false
}

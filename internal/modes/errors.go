package modes

import "errors"

var (
	// ErrUnknownMode is returned when activating a mode the catalog lacks.
	ErrUnknownMode = errors.New("unknown mode")

	// ErrWatchUnsupported is returned by Watch for stores without a change
	// feed.
	ErrWatchUnsupported = errors.New("state backend does not support watching")
)

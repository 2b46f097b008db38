package entity

import "errors"

// Domain-specific errors for registry operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnknownKey is returned when a state update references an entity
	// key that was not present in the last discovery snapshot.
	ErrUnknownKey = errors.New("entity: unknown key")

	// ErrNotFound is returned when no entity matches the requested object ID.
	ErrNotFound = errors.New("entity: not found")

	// ErrNotifierClosed is returned when publishing to a closed notifier.
	ErrNotifierClosed = errors.New("entity: notifier closed")
)

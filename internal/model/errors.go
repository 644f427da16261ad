package model

import "errors"

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned by stores when a record id is already taken.
	ErrDuplicate = errors.New("already exists")

	// ErrConcurrentModification is returned by stores when the optimistic
	// version token no longer matches the stored document.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrAppendOnly is returned when something attempts to rewrite the audit trail.
	ErrAppendOnly = errors.New("audit trail is append-only")
)

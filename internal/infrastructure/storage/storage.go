package storage

import "errors"

var (
	// ErrNotFound signals the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict signals a conditional write lost the version race.
	// Callers treat it as "someone else already handled this", not a failure.
	ErrVersionConflict = errors.New("version conflict")
)

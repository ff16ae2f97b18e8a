package store

import "errors"

var (
	// ErrStorageUnavailable is returned when the storage location exists but
	// cannot be used as a record container.
	ErrStorageUnavailable = errors.New("profile storage unavailable")

	// ErrNotFound is returned when no record exists for the given reference.
	ErrNotFound = errors.New("profile not found")

	// ErrCorruptRecord is returned when a record exists but fails to
	// deserialize.
	ErrCorruptRecord = errors.New("profile record corrupt")
)

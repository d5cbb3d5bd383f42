package refresh

import "errors"

var (
	// ErrRecordNotFound is returned when no record matches the lookup.
	ErrRecordNotFound = errors.New("refresh token record not found")

	// ErrNotActive is returned by Rotate when the conditional update
	// observes a record that is no longer Active. The caller treats this
	// as the reuse path.
	ErrNotActive = errors.New("refresh token record not active")

	// ErrDuplicateRecord is returned by Create when a record with the same
	// ID or secret hash already exists.
	ErrDuplicateRecord = errors.New("duplicate refresh token record")
)

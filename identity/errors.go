package identity

import "errors"

// ErrNotFound is returned by Directory implementations when no identity
// matches the lookup.
var ErrNotFound = errors.New("identity not found")

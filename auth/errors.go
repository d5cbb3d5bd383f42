package auth

import "errors"

var (
	// ErrInvalidCredentials covers "no such identity", "wrong secret" and
	// "no password credential" alike, so callers cannot enumerate
	// accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrFederationConflict is returned when a first-time federated login
	// collides with an existing identity that is not linked to the
	// provider. Resolution is a directory policy decision, never a silent
	// merge.
	ErrFederationConflict = errors.New("federated identity conflict")
)

package token

import "errors"

var (
	// ErrInvalidAccessToken is returned by Verify for tokens that fail
	// signature or claim validation.
	ErrInvalidAccessToken = errors.New("invalid access token")

	// ErrInvalidRefreshToken is returned by Rotate when no ledger record
	// matches the presented secret.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrTokenExpired is returned for tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenReuseDetected is returned when a rotated or revoked refresh
	// token is presented again. The lineage has been revoked by the time
	// the caller sees this error.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
)

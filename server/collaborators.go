package server

import (
	"context"
	"errors"
)

// ErrRateLimited is returned by RateLimiter implementations when a key has
// exceeded its budget. Surfaced to clients as 429; unlike the credential
// failures this distinction is not security sensitive.
var ErrRateLimited = errors.New("rate limited")

// RateLimiter is the external rate limiting collaborator, consulted before
// the credential verifier runs. It is never called while a ledger write is
// in flight.
type RateLimiter interface {
	Allow(ctx context.Context, key string) error
}

// NopRateLimiter allows everything. Used when no external limiter is
// wired.
type NopRateLimiter struct{}

func (NopRateLimiter) Allow(context.Context, string) error { return nil }

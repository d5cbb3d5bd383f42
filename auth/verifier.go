package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jrsteele09/go-session-service/federation"
	"github.com/jrsteele09/go-session-service/identity"
)

// dummyHash keeps the bcrypt comparison in the failure paths so "no such
// identity" and "wrong secret" stay in the same timing class.
var dummyHash, _ = identity.HashPassword("dummy-comparison-password-1A")

// Verifier checks credentials against the external user directory. It
// makes no logging or rate-limiting decisions; callers apply rate limiting
// before invoking it.
type Verifier struct {
	directory identity.Directory
	nowFunc   func() time.Time
}

// VerifierOption modifies the Verifier instance.
type VerifierOption func(*Verifier)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.nowFunc = nowFunc
	}
}

// NewVerifier creates a credential verifier over the directory.
func NewVerifier(directory identity.Directory, options ...VerifierOption) (*Verifier, error) {
	if directory == nil {
		return nil, errors.New("[NewVerifier] directory is required")
	}

	v := &Verifier{
		directory: directory,
		nowFunc:   time.Now,
	}

	for _, opt := range options {
		opt(v)
	}

	return v, nil
}

// VerifyPassword checks an identifier/secret pair. Every failure mode
// returns ErrInvalidCredentials after a bcrypt comparison, so the caller
// learns nothing about whether the account exists.
func (v *Verifier) VerifyPassword(ctx context.Context, identifier, secret string) (*identity.Identity, error) {
	ident, err := v.directory.GetByEmail(ctx, identifier)
	if err != nil {
		identity.CheckPasswordHash(secret, dummyHash)
		return nil, ErrInvalidCredentials
	}
	if !ident.PasswordLogin() {
		identity.CheckPasswordHash(secret, dummyHash)
		return nil, ErrInvalidCredentials
	}
	if !identity.CheckPasswordHash(secret, ident.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return ident, nil
}

// VerifyFederated resolves a federated profile to a local identity. The
// first login through a provider creates a new identity linked to that
// provider, using profile fields as best-effort initial values. An email
// collision with an existing unlinked identity surfaces as
// ErrFederationConflict.
func (v *Verifier) VerifyFederated(ctx context.Context, provider string, profile *federation.Profile) (*identity.Identity, error) {
	ident, err := v.directory.GetByProvider(ctx, provider, profile.ProviderID)
	if err == nil {
		return ident, nil
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return nil, errors.Wrap(err, "[Verifier.VerifyFederated] GetByProvider")
	}

	if profile.Email != "" {
		if _, err := v.directory.GetByEmail(ctx, profile.Email); err == nil {
			return nil, ErrFederationConflict
		} else if !errors.Is(err, identity.ErrNotFound) {
			return nil, errors.Wrap(err, "[Verifier.VerifyFederated] GetByEmail")
		}
	}

	now := v.nowFunc()
	ident = &identity.Identity{
		ID:          uuid.New().String(),
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
		Providers: []identity.ProviderLink{{
			Provider:   provider,
			ProviderID: profile.ProviderID,
			LinkedAt:   now,
		}},
		CreatedAt: now,
	}
	if err := v.directory.Create(ctx, ident); err != nil {
		return nil, errors.Wrap(err, "[Verifier.VerifyFederated] Create")
	}
	return ident, nil
}

// ChangePassword re-verifies the old secret, validates the new one and
// writes the new hash. Callers revoke existing sessions afterwards as an
// explicit policy step.
func (v *Verifier) ChangePassword(ctx context.Context, identityID, oldSecret, newSecret string) error {
	ident, err := v.directory.GetByID(ctx, identityID)
	if err != nil {
		identity.CheckPasswordHash(oldSecret, dummyHash)
		return ErrInvalidCredentials
	}
	if !ident.PasswordLogin() || !identity.CheckPasswordHash(oldSecret, ident.PasswordHash) {
		return ErrInvalidCredentials
	}
	if err := identity.ValidatePasswordStrength(newSecret); err != nil {
		return err
	}
	hash, err := identity.HashPassword(newSecret)
	if err != nil {
		return errors.Wrap(err, "[Verifier.ChangePassword] HashPassword")
	}
	if err := v.directory.UpdatePasswordHash(ctx, identityID, hash); err != nil {
		return errors.Wrap(err, "[Verifier.ChangePassword] UpdatePasswordHash")
	}
	return nil
}

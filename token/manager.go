package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jrsteele09/go-session-service/audit"
	"github.com/jrsteele09/go-session-service/identity"
	"github.com/jrsteele09/go-session-service/token/refresh"
)

const refreshSecretLength = 32 // 256 bits

// Pair is an issued access/refresh token pair. The refresh secret is the
// only copy that ever exists in plaintext; the ledger stores its hash.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresIn  time.Duration
	RefreshExpiresAt time.Time
}

// Manager mints access/refresh token pairs, rotates refresh tokens with
// reuse detection, and coordinates revocation against the ledger.
type Manager struct {
	ledger         refresh.Ledger
	directory      identity.Directory
	signer         Signer
	issuer         string
	accessTTL      time.Duration
	refreshTTL     time.Duration
	verifyIdentity bool
	audit          audit.Logger
	nowFunc        func() time.Time
}

// ManagerOption modifies the Manager instance.
type ManagerOption func(*Manager)

// WithTokenTTLs sets the access and refresh token lifetimes.
func WithTokenTTLs(accessTTL, refreshTTL time.Duration) ManagerOption {
	return func(m *Manager) {
		m.accessTTL = accessTTL
		m.refreshTTL = refreshTTL
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

// WithIssuer sets the iss claim on minted access tokens.
func WithIssuer(issuer string) ManagerOption {
	return func(m *Manager) {
		m.issuer = issuer
	}
}

// WithAuditLogger sets the external activity logger notified on reuse
// detection.
func WithAuditLogger(logger audit.Logger) ManagerOption {
	return func(m *Manager) {
		m.audit = logger
	}
}

// WithIdentityCheck makes Verify confirm the identity still exists in the
// directory. Off by default to keep the hot path free of directory reads.
func WithIdentityCheck() ManagerOption {
	return func(m *Manager) {
		m.verifyIdentity = true
	}
}

// NewManager creates a token manager over the given ledger, directory and
// signer.
func NewManager(ledger refresh.Ledger, directory identity.Directory, signer Signer, options ...ManagerOption) (*Manager, error) {
	if ledger == nil {
		return nil, errors.New("[NewManager] ledger is required")
	}
	if directory == nil {
		return nil, errors.New("[NewManager] directory is required")
	}
	if signer == nil {
		return nil, errors.New("[NewManager] signer is required")
	}

	m := &Manager{
		ledger:     ledger,
		directory:  directory,
		signer:     signer,
		accessTTL:  15 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
		audit:      audit.NopLogger{},
		nowFunc:    time.Now,
	}

	for _, opt := range options {
		opt(m)
	}

	return m, nil
}

// Issue mints a new access/refresh pair for the identity and writes an
// Active ledger record in a fresh lineage. Issuance never reads prior
// ledger state; callers decide separately whether to revoke previous
// sessions.
func (m *Manager) Issue(ctx context.Context, identityID string) (*Pair, error) {
	now := m.nowFunc()

	secret, err := newRefreshSecret()
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Issue] refresh secret")
	}

	record := &refresh.Record{
		ID:         uuid.New().String(),
		SecretHash: refresh.HashSecret(secret),
		IdentityID: identityID,
		LineageID:  uuid.New().String(),
		IssuedAt:   now,
		ExpiresAt:  now.Add(m.refreshTTL),
		State:      refresh.StateActive,
	}
	if err := m.ledger.Create(ctx, record); err != nil {
		return nil, errors.Wrap(err, "[Manager.Issue] ledger create")
	}

	accessToken, err := m.mintAccessToken(identityID, now)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Issue] mint access token")
	}

	return &Pair{
		AccessToken:      accessToken,
		RefreshToken:     secret,
		AccessExpiresIn:  m.accessTTL,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

// Rotate validates the presented refresh secret and atomically supersedes
// it with a new pair. Refresh tokens are single use: presenting a rotated
// or revoked token is treated as replay, revokes the whole lineage, and
// returns ErrTokenReuseDetected.
func (m *Manager) Rotate(ctx context.Context, refreshSecret string) (*Pair, error) {
	now := m.nowFunc()

	current, err := m.ledger.GetBySecretHash(ctx, refresh.HashSecret(refreshSecret))
	if errors.Is(err, refresh.ErrRecordNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Rotate] ledger lookup")
	}

	if current.State != refresh.StateActive {
		return nil, m.reuseDetected(ctx, current, now)
	}
	if current.Expired(now) {
		return nil, ErrTokenExpired
	}

	secret, err := newRefreshSecret()
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Rotate] refresh secret")
	}

	successor := &refresh.Record{
		ID:         uuid.New().String(),
		SecretHash: refresh.HashSecret(secret),
		IdentityID: current.IdentityID,
		LineageID:  current.LineageID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(m.refreshTTL),
		State:      refresh.StateActive,
	}

	// The conditional write is the single serialization point: of two
	// concurrent rotations with the same secret, exactly one observes
	// Active and wins; the other falls into the reuse path.
	if err := m.ledger.Rotate(ctx, current.ID, successor); err != nil {
		if errors.Is(err, refresh.ErrNotActive) {
			return nil, m.reuseDetected(ctx, current, now)
		}
		if errors.Is(err, refresh.ErrRecordNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, errors.Wrap(err, "[Manager.Rotate] ledger rotate")
	}

	accessToken, err := m.mintAccessToken(current.IdentityID, now)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Rotate] mint access token")
	}

	return &Pair{
		AccessToken:      accessToken,
		RefreshToken:     secret,
		AccessExpiresIn:  m.accessTTL,
		RefreshExpiresAt: successor.ExpiresAt,
	}, nil
}

// reuseDetected handles presentation of a non-Active record: the whole
// lineage is revoked (idempotent if it already was) and the external
// activity logger is notified, after the ledger write completes.
func (m *Manager) reuseDetected(ctx context.Context, record *refresh.Record, now time.Time) error {
	if _, err := m.ledger.RevokeByLineage(ctx, record.LineageID, now); err != nil {
		return errors.Wrap(err, "[Manager.reuseDetected] revoke lineage")
	}
	m.audit.Event(ctx, audit.EventReuseDetected, record.IdentityID, map[string]any{
		"lineage_id": record.LineageID,
		"record_id":  record.ID,
	})
	return ErrTokenReuseDetected
}

// RevokeAll revokes every non-Revoked record belonging to the identity.
// Used on explicit logout-everywhere, password change, and as the login
// policy step. Idempotent.
func (m *Manager) RevokeAll(ctx context.Context, identityID string) error {
	if _, err := m.ledger.RevokeByIdentity(ctx, identityID, m.nowFunc()); err != nil {
		return errors.Wrap(err, "[Manager.RevokeAll] ledger revoke")
	}
	return nil
}

// RevokeLineage revokes every non-Revoked record in the lineage.
func (m *Manager) RevokeLineage(ctx context.Context, lineageID string) error {
	if _, err := m.ledger.RevokeByLineage(ctx, lineageID, m.nowFunc()); err != nil {
		return errors.Wrap(err, "[Manager.RevokeLineage] ledger revoke")
	}
	return nil
}

// RevokeOne revokes the single record matching the presented refresh
// secret ("log out this device only"). Unknown or already-revoked secrets
// are a no-op, never an error.
func (m *Manager) RevokeOne(ctx context.Context, refreshSecret string) error {
	record, err := m.ledger.GetBySecretHash(ctx, refresh.HashSecret(refreshSecret))
	if errors.Is(err, refresh.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "[Manager.RevokeOne] ledger lookup")
	}
	if _, err := m.ledger.RevokeByID(ctx, record.ID, m.nowFunc()); err != nil {
		return errors.Wrap(err, "[Manager.RevokeOne] ledger revoke")
	}
	return nil
}

// RevokeAllForSecret resolves the presented refresh secret to its owning
// identity and revokes every session that identity holds ("log out
// everywhere"). Unknown secrets are a no-op.
func (m *Manager) RevokeAllForSecret(ctx context.Context, refreshSecret string) error {
	record, err := m.ledger.GetBySecretHash(ctx, refresh.HashSecret(refreshSecret))
	if errors.Is(err, refresh.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "[Manager.RevokeAllForSecret] ledger lookup")
	}
	return m.RevokeAll(ctx, record.IdentityID)
}

// Verify checks an access token's signature and expiry and returns the
// identity it was minted for. No ledger access happens on this path; an
// access token stays valid until its own expiry even if its originating
// refresh lineage has been revoked.
func (m *Manager) Verify(ctx context.Context, rawToken string) (string, error) {
	parsed, err := jwt.Parse(rawToken, m.signer.GetVerificationKey,
		jwt.WithValidMethods([]string{m.signer.GetSigningMethod().Alg()}),
		jwt.WithTimeFunc(m.nowFunc),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidAccessToken
	}
	if !parsed.Valid {
		return "", ErrInvalidAccessToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidAccessToken
	}
	identityID, _ := claims["sub"].(string)
	if identityID == "" {
		return "", ErrInvalidAccessToken
	}

	if m.verifyIdentity {
		if _, err := m.directory.GetByID(ctx, identityID); err != nil {
			return "", ErrInvalidAccessToken
		}
	}

	return identityID, nil
}

func (m *Manager) mintAccessToken(identityID string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": m.issuer,
		"sub": identityID,
		"iat": now.Unix(),
		"exp": now.Add(m.accessTTL).Unix(),
		"jti": uuid.New().String(),
	}
	return m.signer.Sign(claims)
}

func newRefreshSecret() (string, error) {
	secretBytes := make([]byte, refreshSecretLength)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", errors.Wrap(err, "rand.Read")
	}
	return hex.EncodeToString(secretBytes), nil
}

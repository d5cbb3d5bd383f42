package refresh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// State is the lifecycle state of a stored refresh token record.
// Transitions are monotonic: Active -> Rotated (exactly once) and
// Active/Rotated -> Revoked. Nothing ever returns to Active. Expiry is a
// derived condition (now past ExpiresAt), never a stored state.
type State string

const (
	StateActive  State = "active"
	StateRotated State = "rotated"
	StateRevoked State = "revoked"
)

// Terminal reports whether the state can be purged by the sweeper.
func (s State) Terminal() bool {
	return s == StateRotated || s == StateRevoked
}

// Record is the server-side storage of a refresh token. The bearer secret
// itself is never persisted; records are keyed by SecretHash. Every record
// belongs to exactly one identity and exactly one lineage, the chain of
// records produced by successive rotations of an original issuance.
type Record struct {
	ID           string    // Record identifier
	SecretHash   string    // SHA-256 hex of the opaque bearer secret
	IdentityID   string    // Owning identity
	LineageID    string    // Rotation chain this record belongs to
	IssuedAt     time.Time
	ExpiresAt    time.Time
	State        State
	SupersededBy string    // ID of the record that replaced this one (rotation only)
	RevokedAt    time.Time // Zero unless State is Revoked
}

// Expired reports whether the record is past its expiry at the given time.
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// HashSecret derives the storage key for a bearer secret. Storing only the
// hash keeps a ledger dump from yielding usable session credentials.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Ledger is the durable store of refresh token records.
//
// Rotate is the serialization point of the whole subsystem: it must be a
// single atomic conditional update that succeeds only if the current
// record is still observed Active. Two concurrent rotations of the same
// secret must resolve to exactly one winner; the loser receives
// ErrNotActive. No in-process lock suffices when the ledger is shared
// across processes, so implementations enforce this with the storage
// layer's own conditional-update primitive.
type Ledger interface {
	// Create stores a new record. The record's State should be Active.
	Create(ctx context.Context, record *Record) error

	// GetBySecretHash returns the record keyed by the secret hash, or
	// ErrRecordNotFound.
	GetBySecretHash(ctx context.Context, secretHash string) (*Record, error)

	// Rotate atomically marks the record identified by currentID as
	// Rotated, sets its SupersededBy to successor.ID, and stores the
	// successor as the lineage's new Active record. Fails with
	// ErrNotActive if the current record is not observed Active, and with
	// ErrRecordNotFound if it does not exist.
	Rotate(ctx context.Context, currentID string, successor *Record) error

	// RevokeByIdentity marks every non-Revoked record owned by the
	// identity as Revoked and returns how many records changed state.
	// Idempotent: revoking already-revoked records is a no-op.
	RevokeByIdentity(ctx context.Context, identityID string, revokedAt time.Time) (int, error)

	// RevokeByLineage marks every non-Revoked record in the lineage as
	// Revoked and returns how many records changed state. Idempotent.
	RevokeByLineage(ctx context.Context, lineageID string, revokedAt time.Time) (int, error)

	// RevokeByID marks a single record as Revoked. Returns false without
	// error when the record was already Revoked or does not exist.
	RevokeByID(ctx context.Context, id string, revokedAt time.Time) (bool, error)

	// PurgeTerminal deletes up to batchSize terminal-state records whose
	// expiry (or revocation time) is older than olderThan, returning the
	// number deleted. Housekeeping only: validity is always re-derived
	// from State and ExpiresAt, never from record absence.
	PurgeTerminal(ctx context.Context, olderThan time.Time, batchSize int) (int, error)
}

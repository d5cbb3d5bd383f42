package redisledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-session-service/token/refresh"
	"github.com/jrsteele09/go-session-service/token/refresh/redisledger"
)

func setupLedger(t *testing.T) *redisledger.Ledger {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisledger.New(client)
}

func newTestRecord(id, identityID, lineageID string, issuedAt time.Time) *refresh.Record {
	return &refresh.Record{
		ID:         id,
		SecretHash: refresh.HashSecret("secret-" + id),
		IdentityID: identityID,
		LineageID:  lineageID,
		IssuedAt:   issuedAt,
		ExpiresAt:  issuedAt.Add(7 * 24 * time.Hour),
		State:      refresh.StateActive,
	}
}

func TestCreateAndLookup(t *testing.T) {
	ledger := setupLedger(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	record := newTestRecord("r1", "identity-1", "lineage-1", now)
	require.NoError(t, ledger.Create(ctx, record))

	found, err := ledger.GetBySecretHash(ctx, record.SecretHash)
	require.NoError(t, err)
	require.Equal(t, record.ID, found.ID)
	require.Equal(t, record.IdentityID, found.IdentityID)
	require.Equal(t, record.LineageID, found.LineageID)
	require.Equal(t, refresh.StateActive, found.State)
	require.Equal(t, record.IssuedAt.Unix(), found.IssuedAt.Unix())
	require.Equal(t, record.ExpiresAt.Unix(), found.ExpiresAt.Unix())
	require.True(t, found.RevokedAt.IsZero())

	_, err = ledger.GetBySecretHash(ctx, refresh.HashSecret("unknown"))
	require.ErrorIs(t, err, refresh.ErrRecordNotFound)
}

func TestCreateDuplicate(t *testing.T) {
	ledger := setupLedger(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	record := newTestRecord("r1", "identity-1", "lineage-1", now)
	require.NoError(t, ledger.Create(ctx, record))
	require.ErrorIs(t, ledger.Create(ctx, record), refresh.ErrDuplicateRecord)
}

func TestRotateCompareAndSwap(t *testing.T) {
	ledger := setupLedger(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	current := newTestRecord("r1", "identity-1", "lineage-1", now)
	require.NoError(t, ledger.Create(ctx, current))

	successor := newTestRecord("r2", "identity-1", "lineage-1", now.Add(time.Hour))
	require.NoError(t, ledger.Rotate(ctx, current.ID, successor))

	rotated, err := ledger.GetBySecretHash(ctx, current.SecretHash)
	require.NoError(t, err)
	require.Equal(t, refresh.StateRotated, rotated.State)
	require.Equal(t, successor.ID, rotated.SupersededBy)

	stored, err := ledger.GetBySecretHash(ctx, successor.SecretHash)
	require.NoError(t, err)
	require.Equal(t, refresh.StateActive, stored.State)
	require.Equal(t, current.LineageID, stored.LineageID)

	// The swap only succeeds against an observed-active record, so the
	// second rotation of the same record must lose.
	another := newTestRecord("r3", "identity-1", "lineage-1", now.Add(2*time.Hour))
	require.ErrorIs(t, ledger.Rotate(ctx, current.ID, another), refresh.ErrNotActive)

	require.ErrorIs(t, ledger.Rotate(ctx, "missing", another), refresh.ErrRecordNotFound)
}

func TestRevokeByIdentity(t *testing.T) {
	ledger := setupLedger(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, ledger.Create(ctx, newTestRecord("r1", "identity-1", "lineage-1", now)))
	require.NoError(t, ledger.Create(ctx, newTestRecord("r2", "identity-1", "lineage-2", now)))
	require.NoError(t, ledger.Create(ctx, newTestRecord("r3", "identity-2", "lineage-3", now)))

	revoked, err := ledger.RevokeByIdentity(ctx, "identity-1", now)
	require.NoError(t, err)
	require.Equal(t, 2, revoked)

	record, err := ledger.GetBySecretHash(ctx, refresh.HashSecret("secret-r1"))
	require.NoError(t, err)
	require.Equal(t, refresh.StateRevoked, record.State)
	require.Equal(t, now.Unix(), record.RevokedAt.Unix())

	untouched, err := ledger.GetBySecretHash(ctx, refresh.HashSecret("secret-r3"))
	require.NoError(t, err)
	require.Equal(t, refresh.StateActive, untouched.State)

	// Second pass changes nothing
	revoked, err = ledger.RevokeByIdentity(ctx, "identity-1", now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 0, revoked)
}

func TestRevokeByLineage(t *testing.T) {
	ledger := setupLedger(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	current := newTestRecord("r1", "identity-1", "lineage-1", now)
	require.NoError(t, ledger.Create(ctx, current))
	successor := newTestRecord("r2", "identity-1", "lineage-1", now.Add(time.Hour))
	require.NoError(t, ledger.Rotate(ctx, current.ID, successor))

	// Revokes both the rotated predecessor and the active successor
	revoked, err := ledger.RevokeByLineage(ctx, "lineage-1", now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, revoked)

	record, err := ledger.GetBySecretHash(ctx, successor.SecretHash)
	require.NoError(t, err)
	require.Equal(t, refresh.StateRevoked, record.State)
}

func TestRevokeByID(t *testing.T) {
	ledger := setupLedger(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	record := newTestRecord("r1", "identity-1", "lineage-1", now)
	require.NoError(t, ledger.Create(ctx, record))

	changed, err := ledger.RevokeByID(ctx, record.ID, now)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = ledger.RevokeByID(ctx, record.ID, now)
	require.NoError(t, err)
	require.False(t, changed)

	changed, err = ledger.RevokeByID(ctx, "missing", now)
	require.NoError(t, err)
	require.False(t, changed)
}

func TestPurgeTerminal(t *testing.T) {
	ledger := setupLedger(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	old := newTestRecord("r1", "identity-1", "lineage-1", now.Add(-90*24*time.Hour))
	require.NoError(t, ledger.Create(ctx, old))
	_, err := ledger.RevokeByID(ctx, old.ID, now.Add(-60*24*time.Hour))
	require.NoError(t, err)

	recent := newTestRecord("r2", "identity-1", "lineage-2", now)
	require.NoError(t, ledger.Create(ctx, recent))
	_, err = ledger.RevokeByID(ctx, recent.ID, now)
	require.NoError(t, err)

	active := newTestRecord("r3", "identity-1", "lineage-3", now)
	require.NoError(t, ledger.Create(ctx, active))

	purged, err := ledger.PurgeTerminal(ctx, now.Add(-30*24*time.Hour), 100)
	require.NoError(t, err)
	require.Equal(t, 1, purged)

	_, err = ledger.GetBySecretHash(ctx, old.SecretHash)
	require.ErrorIs(t, err, refresh.ErrRecordNotFound)
	_, err = ledger.GetBySecretHash(ctx, recent.SecretHash)
	require.NoError(t, err)
	_, err = ledger.GetBySecretHash(ctx, active.SecretHash)
	require.NoError(t, err)
}

package refresh_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-session-service/token/refresh"
)

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

func TestLedgerCreateAndLookup(t *testing.T) {
	ledger := refresh.NewInMemoryLedger()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	record := newTestRecord("r1", "identity-1", "lineage-1", now)
	require.NoError(t, ledger.Create(ctx, record))

	found, err := ledger.GetBySecretHash(ctx, record.SecretHash)
	require.NoError(t, err)
	require.Equal(t, record.ID, found.ID)
	require.Equal(t, refresh.StateActive, found.State)

	_, err = ledger.GetBySecretHash(ctx, refresh.HashSecret("unknown"))
	require.ErrorIs(t, err, refresh.ErrRecordNotFound)
}

func TestLedgerCreateDuplicate(t *testing.T) {
	ledger := refresh.NewInMemoryLedger()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	record := newTestRecord("r1", "identity-1", "lineage-1", now)
	require.NoError(t, ledger.Create(ctx, record))
	require.ErrorIs(t, ledger.Create(ctx, record), refresh.ErrDuplicateRecord)
}

func TestLedgerRotate(t *testing.T) {
	ledger := refresh.NewInMemoryLedger()
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

	// A record only rotates once; the second attempt loses the swap.
	another := newTestRecord("r3", "identity-1", "lineage-1", now.Add(2*time.Hour))
	require.ErrorIs(t, ledger.Rotate(ctx, current.ID, another), refresh.ErrNotActive)

	require.ErrorIs(t, ledger.Rotate(ctx, "missing", another), refresh.ErrRecordNotFound)
}

func TestLedgerRevokeByIdentity(t *testing.T) {
	ledger := refresh.NewInMemoryLedger()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, ledger.Create(ctx, newTestRecord("r1", "identity-1", "lineage-1", now)))
	require.NoError(t, ledger.Create(ctx, newTestRecord("r2", "identity-1", "lineage-2", now)))
	require.NoError(t, ledger.Create(ctx, newTestRecord("r3", "identity-2", "lineage-3", now)))

	revoked, err := ledger.RevokeByIdentity(ctx, "identity-1", now)
	require.NoError(t, err)
	require.Equal(t, 2, revoked)
	require.Equal(t, 1, ledger.ActiveCountByIdentity("identity-2"))

	// No-op on the second pass
	revoked, err = ledger.RevokeByIdentity(ctx, "identity-1", now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 0, revoked)
}

func TestLedgerRevokeByLineage(t *testing.T) {
	ledger := refresh.NewInMemoryLedger()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, ledger.Create(ctx, newTestRecord("r1", "identity-1", "lineage-1", now)))
	require.NoError(t, ledger.Create(ctx, newTestRecord("r2", "identity-1", "lineage-1", now)))
	require.NoError(t, ledger.Create(ctx, newTestRecord("r3", "identity-1", "lineage-2", now)))

	revoked, err := ledger.RevokeByLineage(ctx, "lineage-1", now)
	require.NoError(t, err)
	require.Equal(t, 2, revoked)
	require.Equal(t, 0, ledger.ActiveCountByLineage("lineage-1"))
	require.Equal(t, 1, ledger.ActiveCountByLineage("lineage-2"))
}

func TestLedgerRevokeByID(t *testing.T) {
	ledger := refresh.NewInMemoryLedger()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	record := newTestRecord("r1", "identity-1", "lineage-1", now)
	require.NoError(t, ledger.Create(ctx, record))

	revoked, err := ledger.RevokeByID(ctx, record.ID, now)
	require.NoError(t, err)
	require.True(t, revoked)

	revoked, err = ledger.RevokeByID(ctx, record.ID, now)
	require.NoError(t, err)
	require.False(t, revoked)

	revoked, err = ledger.RevokeByID(ctx, "missing", now)
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestLedgerPurgeTerminal(t *testing.T) {
	ledger := refresh.NewInMemoryLedger()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Long-dead revoked record
	dead := newTestRecord("r1", "identity-1", "lineage-1", now.Add(-90*24*time.Hour))
	require.NoError(t, ledger.Create(ctx, dead))
	_, err := ledger.RevokeByID(ctx, dead.ID, now.Add(-60*24*time.Hour))
	require.NoError(t, err)

	// Recently revoked record, still inside the retention window
	recent := newTestRecord("r2", "identity-1", "lineage-2", now.Add(-time.Hour))
	require.NoError(t, ledger.Create(ctx, recent))
	_, err = ledger.RevokeByID(ctx, recent.ID, now)
	require.NoError(t, err)

	// Active record is never purged
	active := newTestRecord("r3", "identity-1", "lineage-3", now)
	require.NoError(t, ledger.Create(ctx, active))

	purged, err := ledger.PurgeTerminal(ctx, now.Add(-30*24*time.Hour), 100)
	require.NoError(t, err)
	require.Equal(t, 1, purged)

	_, err = ledger.GetBySecretHash(ctx, dead.SecretHash)
	require.ErrorIs(t, err, refresh.ErrRecordNotFound)
	_, err = ledger.GetBySecretHash(ctx, recent.SecretHash)
	require.NoError(t, err)
	_, err = ledger.GetBySecretHash(ctx, active.SecretHash)
	require.NoError(t, err)
}

func TestRecordExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	record := newTestRecord("r1", "identity-1", "lineage-1", now)

	require.False(t, record.Expired(now))
	require.False(t, record.Expired(record.ExpiresAt.Add(-time.Second)))
	require.True(t, record.Expired(record.ExpiresAt.Add(time.Second)))
}

func TestStateTerminal(t *testing.T) {
	require.False(t, refresh.StateActive.Terminal())
	require.True(t, refresh.StateRotated.Terminal())
	require.True(t, refresh.StateRevoked.Terminal())
}

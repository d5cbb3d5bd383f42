// Package postgresledger implements the refresh token ledger on
// PostgreSQL. The rotation compare-and-swap is a transaction whose UPDATE
// is conditioned on state = 'active': zero affected rows means another
// writer got there first.
package postgresledger

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"

	"github.com/jrsteele09/go-session-service/token/refresh"
)

// Ledger stores refresh token records in PostgreSQL.
type Ledger struct {
	db *sql.DB
}

// New creates a PostgreSQL-backed ledger on the given connection pool.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

var _ refresh.Ledger = (*Ledger)(nil)

// Open connects to PostgreSQL with the pgx stdlib driver and runs the
// embedded migrations.
func Open(ctx context.Context, dsn string) (*Ledger, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "[postgresledger.Open] sql.Open")
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "[postgresledger.Open] ping")
	}
	if err := RunMigrations(ctx, db); err != nil {
		return nil, errors.Wrap(err, "[postgresledger.Open] migrations")
	}
	return New(db), nil
}

func (l *Ledger) Create(ctx context.Context, record *refresh.Record) error {
	query := `
		INSERT INTO refresh_tokens
			(id, secret_hash, identity_id, lineage_id, issued_at, expires_at, state, superseded_by, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
		ON CONFLICT DO NOTHING
	`
	result, err := l.db.ExecContext(ctx, query,
		record.ID, record.SecretHash, record.IdentityID, record.LineageID,
		record.IssuedAt, record.ExpiresAt, string(record.State),
		record.SupersededBy, nullTime(record.RevokedAt))
	if err != nil {
		return errors.Wrap(err, "[Ledger.Create] insert")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "[Ledger.Create] rows affected")
	}
	if affected == 0 {
		return refresh.ErrDuplicateRecord
	}
	return nil
}

func (l *Ledger) GetBySecretHash(ctx context.Context, secretHash string) (*refresh.Record, error) {
	query := `
		SELECT id, secret_hash, identity_id, lineage_id, issued_at, expires_at, state,
		       COALESCE(superseded_by, ''), revoked_at
		FROM refresh_tokens
		WHERE secret_hash = $1
	`
	return scanRecord(l.db.QueryRowContext(ctx, query, secretHash))
}

func (l *Ledger) Rotate(ctx context.Context, currentID string, successor *refresh.Record) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "[Ledger.Rotate] begin")
	}
	defer func() { _ = tx.Rollback() }()

	// The conditional UPDATE is the serialization point: only one of two
	// concurrent rotations observes state = 'active'.
	update := `
		UPDATE refresh_tokens
		SET state = $1, superseded_by = $2
		WHERE id = $3 AND state = $4
	`
	result, err := tx.ExecContext(ctx, update,
		string(refresh.StateRotated), successor.ID, currentID, string(refresh.StateActive))
	if err != nil {
		return errors.Wrap(err, "[Ledger.Rotate] update")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "[Ledger.Rotate] rows affected")
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE id = $1)`, currentID,
		).Scan(&exists); err != nil {
			return errors.Wrap(err, "[Ledger.Rotate] exists check")
		}
		if !exists {
			return refresh.ErrRecordNotFound
		}
		return refresh.ErrNotActive
	}

	insert := `
		INSERT INTO refresh_tokens
			(id, secret_hash, identity_id, lineage_id, issued_at, expires_at, state, superseded_by, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, NULL)
	`
	if _, err := tx.ExecContext(ctx, insert,
		successor.ID, successor.SecretHash, successor.IdentityID, successor.LineageID,
		successor.IssuedAt, successor.ExpiresAt, string(refresh.StateActive)); err != nil {
		return errors.Wrap(err, "[Ledger.Rotate] insert successor")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "[Ledger.Rotate] commit")
	}
	return nil
}

func (l *Ledger) RevokeByIdentity(ctx context.Context, identityID string, revokedAt time.Time) (int, error) {
	query := `
		UPDATE refresh_tokens
		SET state = $1, revoked_at = $2
		WHERE identity_id = $3 AND state <> $1
	`
	return l.revoke(ctx, query, revokedAt, identityID)
}

func (l *Ledger) RevokeByLineage(ctx context.Context, lineageID string, revokedAt time.Time) (int, error) {
	query := `
		UPDATE refresh_tokens
		SET state = $1, revoked_at = $2
		WHERE lineage_id = $3 AND state <> $1
	`
	return l.revoke(ctx, query, revokedAt, lineageID)
}

func (l *Ledger) RevokeByID(ctx context.Context, id string, revokedAt time.Time) (bool, error) {
	query := `
		UPDATE refresh_tokens
		SET state = $1, revoked_at = $2
		WHERE id = $3 AND state <> $1
	`
	revoked, err := l.revoke(ctx, query, revokedAt, id)
	if err != nil {
		return false, err
	}
	return revoked > 0, nil
}

func (l *Ledger) PurgeTerminal(ctx context.Context, olderThan time.Time, batchSize int) (int, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE id IN (
			SELECT id FROM refresh_tokens
			WHERE state IN ($1, $2)
			  AND GREATEST(expires_at, COALESCE(revoked_at, expires_at)) < $3
			LIMIT $4
		)
	`
	result, err := l.db.ExecContext(ctx, query,
		string(refresh.StateRotated), string(refresh.StateRevoked), olderThan, batchSize)
	if err != nil {
		return 0, errors.Wrap(err, "[Ledger.PurgeTerminal] delete")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "[Ledger.PurgeTerminal] rows affected")
	}
	return int(affected), nil
}

func (l *Ledger) revoke(ctx context.Context, query string, revokedAt time.Time, arg string) (int, error) {
	result, err := l.db.ExecContext(ctx, query, string(refresh.StateRevoked), revokedAt, arg)
	if err != nil {
		return 0, errors.Wrap(err, "[Ledger.revoke] update")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "[Ledger.revoke] rows affected")
	}
	return int(affected), nil
}

func scanRecord(row *sql.Row) (*refresh.Record, error) {
	var (
		record    refresh.Record
		state     string
		revokedAt sql.NullTime
	)
	err := row.Scan(&record.ID, &record.SecretHash, &record.IdentityID, &record.LineageID,
		&record.IssuedAt, &record.ExpiresAt, &state, &record.SupersededBy, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, refresh.ErrRecordNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[scanRecord] scan")
	}
	record.State = refresh.State(state)
	if revokedAt.Valid {
		record.RevokedAt = revokedAt.Time
	}
	return &record, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

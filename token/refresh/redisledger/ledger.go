// Package redisledger implements the refresh token ledger on Redis. The
// Active -> Rotated transition runs as a Lua script so that the
// compare-and-swap is enforced by Redis itself and holds across processes.
package redisledger

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/jrsteele09/go-session-service/token/refresh"
)

const (
	recordKeyPrefix = "rt:record:"
	hashKeyPrefix   = "rt:hash:"
	identityPrefix  = "rt:identity:"
	lineagePrefix   = "rt:lineage:"
	terminalKey     = "rt:terminal"
)

const (
	rotateStatusNotFound  int64 = 0
	rotateStatusNotActive int64 = 1
	rotateStatusRotated   int64 = 2
)

// rotateScript performs the rotation compare-and-swap. It succeeds only if
// the current record is still observed "active"; exactly one of two
// concurrent rotations can win.
//
// KEYS[1] current record, KEYS[2] successor record, KEYS[3] successor
// secret-hash index, KEYS[4] lineage set, KEYS[5] identity set,
// KEYS[6] terminal zset.
// ARGV[1] successor id, ARGV[2..8] successor fields,
// ARGV[9] terminal score for the rotated current record.
const rotateScript = `
local state = redis.call("HGET", KEYS[1], "state")
if not state then
  return 0
end
if state ~= "active" then
  return 1
end
redis.call("HSET", KEYS[1], "state", "rotated", "superseded_by", ARGV[1])
redis.call("HSET", KEYS[2],
  "id", ARGV[1],
  "secret_hash", ARGV[2],
  "identity_id", ARGV[3],
  "lineage_id", ARGV[4],
  "issued_at", ARGV[5],
  "expires_at", ARGV[6],
  "state", ARGV[7],
  "superseded_by", "",
  "revoked_at", ARGV[8])
redis.call("SET", KEYS[3], ARGV[1])
redis.call("SADD", KEYS[4], ARGV[1])
redis.call("SADD", KEYS[5], ARGV[1])
redis.call("ZADD", KEYS[6], ARGV[9], string.sub(KEYS[1], 11))
return 2
`

var rotateLua = redis.NewScript(rotateScript)

// revokeScript marks one record revoked if it is not already. Returns 1
// when the record changed state, 0 otherwise. Revocation is monotonic:
// nothing ever leaves the revoked state.
//
// KEYS[1] record, KEYS[2] terminal zset.
// ARGV[1] revoked_at unix seconds, ARGV[2] terminal score, ARGV[3] record id.
const revokeScript = `
local state = redis.call("HGET", KEYS[1], "state")
if not state or state == "revoked" then
  return 0
end
redis.call("HSET", KEYS[1], "state", "revoked", "revoked_at", ARGV[1])
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
return 1
`

var revokeLua = redis.NewScript(revokeScript)

// Ledger stores refresh token records in Redis.
type Ledger struct {
	redis redis.UniversalClient
}

// New creates a Redis-backed ledger on the given client.
func New(client redis.UniversalClient) *Ledger {
	return &Ledger{redis: client}
}

var _ refresh.Ledger = (*Ledger)(nil)

func (l *Ledger) Create(ctx context.Context, record *refresh.Record) error {
	recordKey := recordKeyPrefix + record.ID

	exists, err := l.redis.Exists(ctx, recordKey, hashKeyPrefix+record.SecretHash).Result()
	if err != nil {
		return errors.Wrap(err, "[Ledger.Create] exists check")
	}
	if exists > 0 {
		return refresh.ErrDuplicateRecord
	}

	pipe := l.redis.TxPipeline()
	pipe.HSet(ctx, recordKey, recordFields(record))
	pipe.Set(ctx, hashKeyPrefix+record.SecretHash, record.ID, 0)
	pipe.SAdd(ctx, identityPrefix+record.IdentityID, record.ID)
	pipe.SAdd(ctx, lineagePrefix+record.LineageID, record.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "[Ledger.Create] pipeline")
	}
	return nil
}

func (l *Ledger) GetBySecretHash(ctx context.Context, secretHash string) (*refresh.Record, error) {
	id, err := l.redis.Get(ctx, hashKeyPrefix+secretHash).Result()
	if err == redis.Nil {
		return nil, refresh.ErrRecordNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Ledger.GetBySecretHash] index lookup")
	}
	return l.getByID(ctx, id)
}

func (l *Ledger) Rotate(ctx context.Context, currentID string, successor *refresh.Record) error {
	keys := []string{
		recordKeyPrefix + currentID,
		recordKeyPrefix + successor.ID,
		hashKeyPrefix + successor.SecretHash,
		lineagePrefix + successor.LineageID,
		identityPrefix + successor.IdentityID,
		terminalKey,
	}
	argv := []any{
		successor.ID,
		successor.SecretHash,
		successor.IdentityID,
		successor.LineageID,
		strconv.FormatInt(successor.IssuedAt.Unix(), 10),
		strconv.FormatInt(successor.ExpiresAt.Unix(), 10),
		string(refresh.StateActive),
		"0",
		strconv.FormatInt(successor.ExpiresAt.Unix(), 10),
	}

	status, err := rotateLua.Run(ctx, l.redis, keys, argv...).Int64()
	if err != nil {
		return errors.Wrap(err, "[Ledger.Rotate] lua")
	}
	switch status {
	case rotateStatusNotFound:
		return refresh.ErrRecordNotFound
	case rotateStatusNotActive:
		return refresh.ErrNotActive
	case rotateStatusRotated:
		return nil
	default:
		return errors.Errorf("[Ledger.Rotate] unexpected script status %d", status)
	}
}

func (l *Ledger) RevokeByIdentity(ctx context.Context, identityID string, revokedAt time.Time) (int, error) {
	return l.revokeSet(ctx, identityPrefix+identityID, revokedAt)
}

func (l *Ledger) RevokeByLineage(ctx context.Context, lineageID string, revokedAt time.Time) (int, error) {
	return l.revokeSet(ctx, lineagePrefix+lineageID, revokedAt)
}

func (l *Ledger) RevokeByID(ctx context.Context, id string, revokedAt time.Time) (bool, error) {
	changed, err := l.revokeOne(ctx, id, revokedAt)
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (l *Ledger) PurgeTerminal(ctx context.Context, olderThan time.Time, batchSize int) (int, error) {
	ids, err := l.redis.ZRangeByScore(ctx, terminalKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(olderThan.Unix()-1, 10),
		Count: int64(batchSize),
	}).Result()
	if err != nil {
		return 0, errors.Wrap(err, "[Ledger.PurgeTerminal] range")
	}

	purged := 0
	for _, id := range ids {
		record, err := l.getByID(ctx, id)
		if err == refresh.ErrRecordNotFound {
			l.redis.ZRem(ctx, terminalKey, id)
			continue
		}
		if err != nil {
			return purged, err
		}

		pipe := l.redis.TxPipeline()
		pipe.Del(ctx, recordKeyPrefix+id)
		pipe.Del(ctx, hashKeyPrefix+record.SecretHash)
		pipe.SRem(ctx, identityPrefix+record.IdentityID, id)
		pipe.SRem(ctx, lineagePrefix+record.LineageID, id)
		pipe.ZRem(ctx, terminalKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return purged, errors.Wrap(err, "[Ledger.PurgeTerminal] delete")
		}
		purged++
	}
	return purged, nil
}

func (l *Ledger) revokeSet(ctx context.Context, setKey string, revokedAt time.Time) (int, error) {
	ids, err := l.redis.SMembers(ctx, setKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, "[Ledger.revokeSet] members")
	}

	revoked := 0
	for _, id := range ids {
		changed, err := l.revokeOne(ctx, id, revokedAt)
		if err != nil {
			return revoked, err
		}
		if changed {
			revoked++
		}
	}
	return revoked, nil
}

func (l *Ledger) revokeOne(ctx context.Context, id string, revokedAt time.Time) (bool, error) {
	keys := []string{recordKeyPrefix + id, terminalKey}
	argv := []any{
		strconv.FormatInt(revokedAt.Unix(), 10),
		strconv.FormatInt(revokedAt.Unix(), 10),
		id,
	}
	changed, err := revokeLua.Run(ctx, l.redis, keys, argv...).Int64()
	if err != nil {
		return false, errors.Wrap(err, "[Ledger.revokeOne] lua")
	}
	return changed == 1, nil
}

func (l *Ledger) getByID(ctx context.Context, id string) (*refresh.Record, error) {
	fields, err := l.redis.HGetAll(ctx, recordKeyPrefix+id).Result()
	if err != nil {
		return nil, errors.Wrap(err, "[Ledger.getByID] hgetall")
	}
	if len(fields) == 0 {
		return nil, refresh.ErrRecordNotFound
	}
	return recordFromFields(fields)
}

func recordFields(record *refresh.Record) map[string]any {
	revokedAt := int64(0)
	if !record.RevokedAt.IsZero() {
		revokedAt = record.RevokedAt.Unix()
	}
	return map[string]any{
		"id":            record.ID,
		"secret_hash":   record.SecretHash,
		"identity_id":   record.IdentityID,
		"lineage_id":    record.LineageID,
		"issued_at":     record.IssuedAt.Unix(),
		"expires_at":    record.ExpiresAt.Unix(),
		"state":         string(record.State),
		"superseded_by": record.SupersededBy,
		"revoked_at":    revokedAt,
	}
}

func recordFromFields(fields map[string]string) (*refresh.Record, error) {
	issuedAt, err := strconv.ParseInt(fields["issued_at"], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "[recordFromFields] issued_at")
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "[recordFromFields] expires_at")
	}
	revokedAt, err := strconv.ParseInt(fields["revoked_at"], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "[recordFromFields] revoked_at")
	}

	record := &refresh.Record{
		ID:           fields["id"],
		SecretHash:   fields["secret_hash"],
		IdentityID:   fields["identity_id"],
		LineageID:    fields["lineage_id"],
		IssuedAt:     time.Unix(issuedAt, 0).UTC(),
		ExpiresAt:    time.Unix(expiresAt, 0).UTC(),
		State:        refresh.State(fields["state"]),
		SupersededBy: fields["superseded_by"],
	}
	if revokedAt > 0 {
		record.RevokedAt = time.Unix(revokedAt, 0).UTC()
	}
	return record, nil
}

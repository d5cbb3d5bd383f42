package refresh

import (
	"context"
	"sync"
	"time"
)

// InMemoryLedger is an in-memory implementation of Ledger. The rotation
// compare-and-swap is serialized by the mutex, which is sufficient for a
// single-process deployment and for tests.
type InMemoryLedger struct {
	mu      sync.Mutex
	records map[string]*Record // ID -> record
	byHash  map[string]string  // secret hash -> ID
}

// NewInMemoryLedger creates a new in-memory refresh token ledger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		records: make(map[string]*Record),
		byHash:  make(map[string]string),
	}
}

func (l *InMemoryLedger) Create(_ context.Context, record *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.records[record.ID]; exists {
		return ErrDuplicateRecord
	}
	if _, exists := l.byHash[record.SecretHash]; exists {
		return ErrDuplicateRecord
	}

	stored := *record
	l.records[record.ID] = &stored
	l.byHash[record.SecretHash] = record.ID
	return nil
}

func (l *InMemoryLedger) GetBySecretHash(_ context.Context, secretHash string) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, ok := l.byHash[secretHash]
	if !ok {
		return nil, ErrRecordNotFound
	}
	record := *l.records[id]
	return &record, nil
}

func (l *InMemoryLedger) Rotate(_ context.Context, currentID string, successor *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.records[currentID]
	if !ok {
		return ErrRecordNotFound
	}
	if current.State != StateActive {
		return ErrNotActive
	}

	current.State = StateRotated
	current.SupersededBy = successor.ID

	stored := *successor
	l.records[successor.ID] = &stored
	l.byHash[successor.SecretHash] = successor.ID
	return nil
}

func (l *InMemoryLedger) RevokeByIdentity(_ context.Context, identityID string, revokedAt time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	revoked := 0
	for _, record := range l.records {
		if record.IdentityID == identityID && record.State != StateRevoked {
			record.State = StateRevoked
			record.RevokedAt = revokedAt
			revoked++
		}
	}
	return revoked, nil
}

func (l *InMemoryLedger) RevokeByLineage(_ context.Context, lineageID string, revokedAt time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	revoked := 0
	for _, record := range l.records {
		if record.LineageID == lineageID && record.State != StateRevoked {
			record.State = StateRevoked
			record.RevokedAt = revokedAt
			revoked++
		}
	}
	return revoked, nil
}

func (l *InMemoryLedger) RevokeByID(_ context.Context, id string, revokedAt time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[id]
	if !ok || record.State == StateRevoked {
		return false, nil
	}
	record.State = StateRevoked
	record.RevokedAt = revokedAt
	return true, nil
}

func (l *InMemoryLedger) PurgeTerminal(_ context.Context, olderThan time.Time, batchSize int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	purged := 0
	for id, record := range l.records {
		if purged >= batchSize {
			break
		}
		if !record.State.Terminal() {
			continue
		}
		cutoff := record.ExpiresAt
		if record.State == StateRevoked && record.RevokedAt.After(cutoff) {
			cutoff = record.RevokedAt
		}
		if cutoff.Before(olderThan) {
			delete(l.byHash, record.SecretHash)
			delete(l.records, id)
			purged++
		}
	}
	return purged, nil
}

// ActiveCountByLineage returns how many Active records a lineage holds.
// Used by tests to assert the single-Active invariant.
func (l *InMemoryLedger) ActiveCountByLineage(lineageID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, record := range l.records {
		if record.LineageID == lineageID && record.State == StateActive {
			count++
		}
	}
	return count
}

// ActiveCountByIdentity returns how many Active records an identity holds.
func (l *InMemoryLedger) ActiveCountByIdentity(identityID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, record := range l.records {
		if record.IdentityID == identityID && record.State == StateActive {
			count++
		}
	}
	return count
}

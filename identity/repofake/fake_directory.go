package repofake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-session-service/identity"
)

// FakeDirectory is an in-memory implementation of identity.Directory used
// in tests and local development.
type FakeDirectory struct {
	mu         sync.RWMutex
	identities map[string]*identity.Identity // ID -> identity
}

// NewFakeDirectory creates a new in-memory directory.
func NewFakeDirectory() *FakeDirectory {
	return &FakeDirectory{
		identities: make(map[string]*identity.Identity),
	}
}

func (d *FakeDirectory) GetByID(_ context.Context, id string) (*identity.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ident, ok := d.identities[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return copyIdentity(ident), nil
}

func (d *FakeDirectory) GetByEmail(_ context.Context, email string) (*identity.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, ident := range d.identities {
		if ident.Email == email {
			return copyIdentity(ident), nil
		}
	}
	return nil, identity.ErrNotFound
}

func (d *FakeDirectory) GetByProvider(_ context.Context, provider, providerID string) (*identity.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, ident := range d.identities {
		if ident.HasProvider(provider, providerID) {
			return copyIdentity(ident), nil
		}
	}
	return nil, identity.ErrNotFound
}

func (d *FakeDirectory) Create(_ context.Context, ident *identity.Identity) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.identities[ident.ID] = copyIdentity(ident)
	return nil
}

func (d *FakeDirectory) LinkProvider(_ context.Context, id string, link identity.ProviderLink) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ident, ok := d.identities[id]
	if !ok {
		return identity.ErrNotFound
	}
	ident.Providers = append(ident.Providers, link)
	return nil
}

func (d *FakeDirectory) UpdatePasswordHash(_ context.Context, id string, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ident, ok := d.identities[id]
	if !ok {
		return identity.ErrNotFound
	}
	ident.PasswordHash = hash
	return nil
}

// copyIdentity returns a copy so callers cannot mutate stored state.
func copyIdentity(ident *identity.Identity) *identity.Identity {
	c := *ident
	c.Providers = append([]identity.ProviderLink(nil), ident.Providers...)
	return &c
}

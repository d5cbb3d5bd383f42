package identity

import "context"

// Directory is the boundary to the external user directory. Lookups are
// opaque; any field-level encoding the directory applies to profile
// attributes happens behind this interface.
type Directory interface {
	GetByID(ctx context.Context, id string) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	GetByProvider(ctx context.Context, provider, providerID string) (*Identity, error)
	Create(ctx context.Context, ident *Identity) error
	LinkProvider(ctx context.Context, id string, link ProviderLink) error
	UpdatePasswordHash(ctx context.Context, id string, hash string) error
}

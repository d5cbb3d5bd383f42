// Package federation resolves OAuth/OIDC authorization codes to federated
// profiles. Providers are external collaborators; this package owns only
// the code-for-profile exchange.
package federation

import (
	"context"

	"github.com/pkg/errors"
)

// Profile is the federated identity a provider vouches for.
type Profile struct {
	ProviderID  string // Subject identifier issued by the provider
	Email       string
	DisplayName string
}

// Provider exchanges an authorization code for the profile it represents.
// One implementation exists per upstream provider, selected by name.
type Provider interface {
	// Name returns the provider's registry name, e.g. "google".
	Name() string

	// AuthURL builds the provider's authorization redirect URL for the
	// given state and nonce.
	AuthURL(state, nonce string) string

	// ExchangeCode trades an authorization code for the federated profile.
	ExchangeCode(ctx context.Context, code, nonce string) (*Profile, error)
}

// ErrUnknownProvider is returned for provider names with no registration.
var ErrUnknownProvider = errors.New("unknown federation provider")

// Registry selects providers by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a registry over the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return p, nil
}

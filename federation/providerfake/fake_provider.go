package providerfake

import (
	"context"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-session-service/federation"
)

// FakeProvider is a federation.Provider for tests: codes map directly to
// canned profiles.
type FakeProvider struct {
	ProviderName string
	Profiles     map[string]*federation.Profile // code -> profile
}

// NewFakeProvider creates a fake provider registered under name.
func NewFakeProvider(name string) *FakeProvider {
	return &FakeProvider{
		ProviderName: name,
		Profiles:     make(map[string]*federation.Profile),
	}
}

// AddProfile registers a profile returned for the given code.
func (p *FakeProvider) AddProfile(code string, profile *federation.Profile) {
	p.Profiles[code] = profile
}

func (p *FakeProvider) Name() string {
	return p.ProviderName
}

func (p *FakeProvider) AuthURL(state, nonce string) string {
	return "https://" + p.ProviderName + ".example.com/authorize?state=" + state + "&nonce=" + nonce
}

func (p *FakeProvider) ExchangeCode(_ context.Context, code, _ string) (*federation.Profile, error) {
	profile, ok := p.Profiles[code]
	if !ok {
		return nil, errors.New("invalid code")
	}
	return profile, nil
}

package federation

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

var _ Provider = (*OIDCProvider)(nil)

// OIDCProvider implements Provider over any OpenID Connect issuer using
// the standard discovery document.
type OIDCProvider struct {
	name     string
	provider *oidc.Provider
	config   *oauth2.Config
}

// NewOIDCProvider discovers the issuer's endpoints and builds a provider
// registered under the given name.
func NewOIDCProvider(ctx context.Context, name, issuerURL, clientID, clientSecret, redirectURL string) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, errors.Wrapf(err, "[NewOIDCProvider] discovery for %s", issuerURL)
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}

	return &OIDCProvider{
		name:     name,
		provider: provider,
		config:   config,
	}, nil
}

func (p *OIDCProvider) Name() string {
	return p.name
}

func (p *OIDCProvider) AuthURL(state, nonce string) string {
	return p.config.AuthCodeURL(state, oidc.Nonce(nonce))
}

// ExchangeCode trades the code for tokens, verifies the ID token signature
// and nonce, and maps its claims to a Profile.
func (p *OIDCProvider) ExchangeCode(ctx context.Context, code, nonce string) (*Profile, error) {
	oauth2Token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "[OIDCProvider.ExchangeCode] token exchange")
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("[OIDCProvider.ExchangeCode] no ID token in response")
	}

	idToken, err := p.provider.Verifier(&oidc.Config{ClientID: p.config.ClientID}).Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errors.Wrap(err, "[OIDCProvider.ExchangeCode] ID token verification")
	}

	var claims struct {
		Nonce string `json:"nonce"`
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "[OIDCProvider.ExchangeCode] claims")
	}

	// Nonce must match what we set on the auth redirect, to prevent replay
	if claims.Nonce != nonce {
		return nil, errors.New("[OIDCProvider.ExchangeCode] nonce mismatch")
	}

	return &Profile{
		ProviderID:  claims.Sub,
		Email:       claims.Email,
		DisplayName: claims.Name,
	}, nil
}

package server

import (
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-session-service/audit"
	"github.com/jrsteele09/go-session-service/auth"
)

// OAuthLoginHandler starts a federated login: it generates state and
// nonce, parks them in a short-lived cookie, and redirects to the
// provider's authorization endpoint.
func (s *Server) OAuthLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, err := s.providers.Get(r.PathValue("provider"))
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown provider")
			return
		}

		state := generateRandomString(32)
		nonce := generateRandomString(32)
		s.setOAuthStateCookie(w, r, state, nonce)
		http.Redirect(w, r, provider.AuthURL(state, nonce), http.StatusSeeOther)
	}
}

// OAuthCallbackHandler completes a federated login: it validates state,
// exchanges the code for a verified profile, resolves it to a local
// identity, and then runs the same revoke-and-issue flow as /login.
func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, err := s.providers.Get(r.PathValue("provider"))
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown provider")
			return
		}

		// r.FormValue works for both query params and POST form data
		state := r.FormValue("state")
		code := r.FormValue("code")
		if errorParam := r.FormValue("error"); errorParam != "" {
			writeError(w, http.StatusBadRequest, "authorization failed: "+errorParam)
			return
		}
		if code == "" || state == "" {
			writeError(w, http.StatusBadRequest, "missing code or state parameter")
			return
		}

		nonce, ok := s.consumeOAuthState(w, r, state)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid state parameter")
			return
		}

		if err := s.limiter.Allow(r.Context(), "oauth:"+provider.Name()); err != nil {
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}

		profile, err := provider.ExchangeCode(r.Context(), code, nonce)
		if err != nil {
			s.log.Warn().Err(err).Str("provider", provider.Name()).Msg("code exchange failed")
			s.unauthorized(w)
			return
		}

		ident, err := s.verifier.VerifyFederated(r.Context(), provider.Name(), profile)
		if err != nil {
			if errors.Is(err, auth.ErrFederationConflict) {
				writeError(w, http.StatusConflict, "account conflict")
				return
			}
			s.internalError(w, err, "resolve federated identity")
			return
		}

		if s.config.RevokeOnLogin {
			if err := s.tokens.RevokeAll(r.Context(), ident.ID); err != nil {
				s.internalError(w, err, "revoke previous sessions")
				return
			}
		}

		pair, err := s.tokens.Issue(r.Context(), ident.ID)
		if err != nil {
			s.internalError(w, err, "issue token pair")
			return
		}

		s.audit.Event(r.Context(), audit.EventFederated, ident.ID, map[string]any{"provider": provider.Name()})
		s.SetRefreshCookie(w, r, pair.RefreshToken, pair.RefreshExpiresAt)
		writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken: pair.AccessToken,
			TokenType:   "bearer",
			ExpiresIn:   int(pair.AccessExpiresIn.Seconds()),
		})
	}
}

// consumeOAuthState validates the state echoed by the provider against
// the parked cookie and returns the nonce. The cookie is cleared either
// way; states are single use.
func (s *Server) consumeOAuthState(w http.ResponseWriter, r *http.Request, state string) (string, bool) {
	cookie, err := r.Cookie(oauthStateCookieName)
	s.clearOAuthStateCookie(w, r)
	if err != nil || cookie.Value == "" {
		return "", false
	}

	parts := strings.SplitN(cookie.Value, ".", 2)
	if len(parts) != 2 || parts[0] != state {
		return "", false
	}
	return parts[1], true
}

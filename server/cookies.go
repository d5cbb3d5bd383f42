package server

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"
)

const (
	// refreshCookieName carries the opaque refresh secret. The secret is
	// the only session credential; the ledger stores just its hash.
	refreshCookieName = "refresh_token"
	// oauthStateCookieName tracks the state and nonce across the
	// federated login redirect.
	oauthStateCookieName = "oauth_state"
)

// generateRandomString creates a random base64url string
func generateRandomString(length int) string {
	b := make([]byte, length)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func (s *Server) SetRefreshCookie(w http.ResponseWriter, r *http.Request, secret string, expiresAt time.Time) {
	isSecure := getScheme(r) == "https"

	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    secret,
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

func (s *Server) ClearRefreshCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func (s *Server) setOAuthStateCookie(w http.ResponseWriter, r *http.Request, state, nonce string) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    state + "." + nonce,
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300, // Long enough for the provider round trip
	})
}

func (s *Server) clearOAuthStateCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-session-service/audit"
	"github.com/jrsteele09/go-session-service/auth"
	"github.com/jrsteele09/go-session-service/token"
)

const contentTypeJSON = "application/json; charset=utf-8"

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type changePasswordRequest struct {
	OldSecret string `json:"old_secret"`
	NewSecret string `json:"new_secret"`
}

// LoginHandler authenticates an identifier/secret pair, revokes the
// identity's previous sessions as an explicit policy step, and issues a
// fresh token pair. The refresh secret travels only in the httpOnly
// cookie.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		// Rate limiting happens before the verifier runs
		if err := s.limiter.Allow(r.Context(), "login:"+req.Identifier); err != nil {
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}

		ident, err := s.verifier.VerifyPassword(r.Context(), req.Identifier, req.Secret)
		if err != nil {
			s.unauthorized(w)
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

		s.audit.Event(r.Context(), audit.EventLogin, ident.ID, nil)
		s.SetRefreshCookie(w, r, pair.RefreshToken, pair.RefreshExpiresAt)
		writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken: pair.AccessToken,
			TokenType:   "bearer",
			ExpiresIn:   int(pair.AccessExpiresIn.Seconds()),
		})
	}
}

// LogoutHandler revokes the session behind the refresh cookie. With
// ?everywhere=true every session of the owning identity is revoked.
// Revocation is idempotent, so logging out twice is not an error.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(refreshCookieName)
		if err != nil || cookie.Value == "" {
			s.ClearRefreshCookie(w, r)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if r.URL.Query().Get("everywhere") == "true" {
			err = s.tokens.RevokeAllForSecret(r.Context(), cookie.Value)
		} else {
			err = s.tokens.RevokeOne(r.Context(), cookie.Value)
		}
		if err != nil {
			s.internalError(w, err, "revoke session")
			return
		}

		s.audit.Event(r.Context(), audit.EventLogout, "", nil)
		s.ClearRefreshCookie(w, r)
		w.WriteHeader(http.StatusNoContent)
	}
}

// TokenRefreshHandler rotates the refresh token from the cookie and
// returns a new access token. Invalid, expired and replayed tokens all
// collapse to a generic 401 so the failure mode is not leaked; reuse
// detection has already revoked the lineage by the time the response is
// written.
func (s *Server) TokenRefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(refreshCookieName)
		if err != nil || cookie.Value == "" {
			s.unauthorized(w)
			return
		}

		pair, err := s.tokens.Rotate(r.Context(), cookie.Value)
		switch {
		case err == nil:
		case errors.Is(err, token.ErrInvalidRefreshToken),
			errors.Is(err, token.ErrTokenExpired),
			errors.Is(err, token.ErrTokenReuseDetected):
			s.ClearRefreshCookie(w, r)
			s.unauthorized(w)
			return
		default:
			// Ledger write failures are fatal for this request; blind
			// retries of a conditional rotation could double-issue tokens.
			s.internalError(w, err, "rotate refresh token")
			return
		}

		s.SetRefreshCookie(w, r, pair.RefreshToken, pair.RefreshExpiresAt)
		writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken: pair.AccessToken,
			TokenType:   "bearer",
			ExpiresIn:   int(pair.AccessExpiresIn.Seconds()),
		})
	}
}

// MeHandler verifies the bearer access token and returns the identity it
// was minted for. Verification is stateless; the ledger is never touched
// on this path.
func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identityID, ok := s.bearerIdentity(w, r)
		if !ok {
			return
		}

		ident, err := s.directory.GetByID(r.Context(), identityID)
		if err != nil {
			s.unauthorized(w)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":           ident.ID,
			"email":        ident.Email,
			"display_name": ident.DisplayName,
		})
	}
}

// ChangePasswordHandler re-verifies the old secret, stores the new hash
// and revokes every existing session of the identity.
func (s *Server) ChangePasswordHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identityID, ok := s.bearerIdentity(w, r)
		if !ok {
			return
		}

		var req changePasswordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := s.verifier.ChangePassword(r.Context(), identityID, req.OldSecret, req.NewSecret); err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				s.unauthorized(w)
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := s.tokens.RevokeAll(r.Context(), identityID); err != nil {
			s.internalError(w, err, "revoke sessions after password change")
			return
		}

		s.audit.Event(r.Context(), audit.EventRevokeAll, identityID, map[string]any{"reason": "password_change"})
		s.ClearRefreshCookie(w, r)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// bearerIdentity extracts and verifies the Authorization bearer token,
// writing a 401 on failure.
func (s *Server) bearerIdentity(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		s.unauthorized(w)
		return "", false
	}

	identityID, err := s.tokens.Verify(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		s.unauthorized(w)
		return "", false
	}
	return identityID, true
}

// unauthorized writes the generic 401. InvalidCredentials,
// InvalidRefreshToken and TokenReuseDetected deliberately share this
// response so clients cannot tell the failure modes apart.
func (s *Server) unauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

func (s *Server) internalError(w http.ResponseWriter, err error, context string) {
	s.log.Error().Err(err).Str("context", context).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

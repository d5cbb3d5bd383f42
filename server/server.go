package server

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-session-service/audit"
	"github.com/jrsteele09/go-session-service/auth"
	"github.com/jrsteele09/go-session-service/federation"
	"github.com/jrsteele09/go-session-service/identity"
	"github.com/jrsteele09/go-session-service/internal/config"
	"github.com/jrsteele09/go-session-service/token"
)

// Server exposes the authentication subsystem over HTTP.
type Server struct {
	env       string // Environment (e.g., "DEV", "production")
	mux       *http.ServeMux
	routes    []string
	config    *config.Config
	verifier  *auth.Verifier
	tokens    *token.Manager
	directory identity.Directory
	providers *federation.Registry
	limiter   RateLimiter
	audit     audit.Logger
	log       zerolog.Logger
}

// Option modifies the Server instance.
type Option func(*Server)

// WithRateLimiter wires the external rate limiter consulted by the
// credential endpoints.
func WithRateLimiter(limiter RateLimiter) Option {
	return func(s *Server) {
		s.limiter = limiter
	}
}

// WithAuditLogger wires the external activity logger.
func WithAuditLogger(logger audit.Logger) Option {
	return func(s *Server) {
		s.audit = logger
	}
}

// WithProviders wires the federated login providers.
func WithProviders(providers *federation.Registry) Option {
	return func(s *Server) {
		s.providers = providers
	}
}

// New creates the HTTP server over the verifier, token manager and
// directory boundary.
func New(cfg *config.Config, verifier *auth.Verifier, tokens *token.Manager, directory identity.Directory, log zerolog.Logger, options ...Option) *Server {
	s := &Server{
		env:       cfg.Env,
		mux:       http.NewServeMux(),
		config:    cfg,
		verifier:  verifier,
		tokens:    tokens,
		directory: directory,
		providers: federation.NewRegistry(),
		limiter:   NopRateLimiter{},
		audit:     audit.NopLogger{},
		log:       log,
	}

	for _, opt := range options {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("POST "+RouteLogin, s.LoginHandler())
	s.RegisterRouteFunc("POST "+RouteLogout, s.LogoutHandler())
	s.RegisterRouteFunc("POST "+RouteTokenRefresh, s.TokenRefreshHandler())
	s.RegisterRouteFunc("GET "+RouteMe, s.MeHandler())
	s.RegisterRouteFunc("POST "+RouteChangePassword, s.ChangePasswordHandler())

	s.RegisterRouteFunc("GET "+RouteOAuthLogin, s.OAuthLoginHandler())
	s.RegisterRouteFunc("GET "+RouteOAuthCallback, s.OAuthCallbackHandler())
	s.RegisterRouteFunc("POST "+RouteOAuthCallback, s.OAuthCallbackHandler()) // For form_post response mode

	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			s.log.Debug().Str("method", parts[0]).Str("path", parts[1]).Msg("route")
		} else {
			s.log.Debug().Str("path", parts[0]).Msg("route")
		}
	}
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}

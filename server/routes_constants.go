package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	RouteLogin          = "/login"
	RouteLogout         = "/logout"
	RouteTokenRefresh   = "/token/refresh"
	RouteMe             = "/me"
	RouteChangePassword = "/password/change"

	RouteOAuthLogin    = "/oauth/{provider}/login"
	RouteOAuthCallback = "/oauth/{provider}/callback"

	RouteHealth = "/healthz"
)

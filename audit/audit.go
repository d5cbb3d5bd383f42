// Package audit defines the boundary to the external activity logger.
// The subsystem emits events after its own transactional steps complete,
// never while holding ledger state.
package audit

import (
	"context"

	"github.com/rs/zerolog"
)

// Event kinds emitted by the subsystem.
const (
	EventLogin         = "auth.login"
	EventLogout        = "auth.logout"
	EventFederated     = "auth.federated_login"
	EventRevokeAll     = "auth.revoke_all"
	EventReuseDetected = "auth.token_reuse_detected"
)

// Logger receives security-relevant events.
type Logger interface {
	Event(ctx context.Context, kind, identityID string, fields map[string]any)
}

// ZerologLogger writes audit events as structured zerolog entries.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates an audit logger over the given zerolog logger.
func NewZerologLogger(log zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{log: log}
}

func (l *ZerologLogger) Event(_ context.Context, kind, identityID string, fields map[string]any) {
	event := l.log.Info().Str("event", kind).Str("identity_id", identityID)
	for key, value := range fields {
		event = event.Interface(key, value)
	}
	event.Msg("audit")
}

// NopLogger discards all events.
type NopLogger struct{}

func (NopLogger) Event(context.Context, string, string, map[string]any) {}

package execution

import (
	"context"

	"github.com/alexherrero/sherwood/backend/tracing"
)

// contextKey is a private type for context keys to avoid collisions. It is
// distinct from the api package's own contextKey by design, so values set
// by the HTTP audit middleware only reach Submit through ContextWithAudit.
type contextKey string

const (
	// auditIPKey is the context key for the requestor's IP address.
	auditIPKey contextKey = "audit_ip"
	// auditKeyIDKey is the context key for the API key identifier.
	auditKeyIDKey contextKey = "audit_key_id"
)

// ContextWithAudit attaches requestor IP and API key identifier to ctx so
// Submit can stamp them onto its audit log line. Callers across the API
// boundary carry their own context key type for the same values (to avoid
// import coupling), so the HTTP handler re-attaches them here rather than
// passing its context straight through.
func ContextWithAudit(ctx context.Context, ip, keyID string) context.Context {
	ctx = context.WithValue(ctx, auditIPKey, ip)
	ctx = context.WithValue(ctx, auditKeyIDKey, keyID)
	return ctx
}

// auditIPFromCtx extracts the requestor IP from context.
// Returns "unknown" if not present.
func auditIPFromCtx(ctx context.Context) string {
	if ip, ok := ctx.Value(auditIPKey).(string); ok {
		return ip
	}
	return "unknown"
}

// auditKeyIDFromCtx extracts the API key identifier from context.
// Returns "unknown" if not present.
func auditKeyIDFromCtx(ctx context.Context) string {
	if keyID, ok := ctx.Value(auditKeyIDKey).(string); ok {
		return keyID
	}
	return "unknown"
}

// NewEngineContext creates a context with audit fields and a trace ID
// for engine-initiated operations, distinguishing automated orders
// from manual API orders.
//
// Each engine context receives a unique trace ID so that all log entries
// and downstream operations for the same engine action can be correlated.
func NewEngineContext() context.Context {
	ctx := context.Background()
	ctx = context.WithValue(ctx, auditIPKey, "engine")
	ctx = context.WithValue(ctx, auditKeyIDKey, "system")
	ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
	return ctx
}

// NewEngineContextWithTrace creates a context with audit fields and
// a pre-existing trace ID. Use this when the caller already has a
// trace ID (e.g., from an engine tick) that should be propagated to
// child operations.
//
// Args:
//   - parentCtx: Parent context containing trace ID
//
// Returns:
//   - context.Context: Context with engine audit fields and inherited trace ID
func NewEngineContextWithTrace(parentCtx context.Context) context.Context {
	ctx := parentCtx
	ctx = context.WithValue(ctx, auditIPKey, "engine")
	ctx = context.WithValue(ctx, auditKeyIDKey, "system")
	return ctx
}

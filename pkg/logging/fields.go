// Package logging provides structured logging with zerolog for the request
// pipeline. Loggers carry request, transaction and statement identifiers so
// a single dispatch can be followed from the interceptor chain down to the
// SQL it executed.
//
// Example usage:
//
//	logger := logging.New(config.LogConfig{Level: "info", Format: "json"})
//	logger.Info().Str(logging.Statement, "user.getUser").Msg("statement executed")
package logging

// Field names shared by all components.
const (
	// Correlation.
	TraceID   = "trace_id"
	SpanID    = "span_id"
	RequestID = "request_id"
	TxID      = "tx_id"

	// Origin.
	ServiceName = "service_name"
	Component   = "component"

	// HTTP exchange.
	Method     = "method"
	Path       = "path"
	StatusCode = "status_code"
	Duration   = "duration_ms"
	Locale     = "locale"
	View       = "view"
	SessionID  = "session_id" // the identifier only, never session contents

	// Data access.
	Statement = "statement" // registered statement name
	Script    = "script"    // schema script resource

	Error = "error"
)

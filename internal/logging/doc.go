// Package logging assembles structured slog loggers and formatting helpers used
// across doorkeeper components.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and defines the standardized attribute keys (component, event_type,
// error_hint, impact, session_id, identity_id) so logs from the capture loop,
// the identity store, and the alert channels share one shape. A no-op logger
// is provided for tests and wiring code that cannot fail.
package logging

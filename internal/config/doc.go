// Package config loads, normalizes, and validates doorkeeper's static daemon
// configuration.
//
// It supplies defaults, expands user paths (including tilde shortcuts), reads
// TOML files, and honours environment fallbacks for channel credentials such
// as DOORKEEPER_SMTP_PASSWORD and DOORKEEPER_TWILIO_AUTH_TOKEN. Parameters
// operators tune while the daemon runs (thresholds, recipients, timings) are
// not kept here; they live on the config bus.
package config

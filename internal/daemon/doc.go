// Package daemon coordinates the long-running doorkeeper process.
//
// It owns the components wired by daemonrun (identity store, config bus,
// embedding cache, capture runtime, alert dispatcher, lock actuator, HTTP
// API) and runs them under a flock-based single-instance lock. The IPC
// server drives the CLI through the methods exposed here.
//
// Keep orchestration logic here: frame processing lives in runtime and the
// transports stay thin.
package daemon

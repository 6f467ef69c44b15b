// Command doorkeeper is the operator CLI and daemon entrypoint.
//
// `doorkeeper run` assembles the daemon in-process. Every other command talks
// to a running daemon over its Unix socket: capture control, identity and
// sample enrollment, runtime config sections, and notification tests.
package main

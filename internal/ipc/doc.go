// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. Identity
// and sample payloads reuse the HTTP API types so both transports render the
// same shapes.
package ipc

// Package configbus holds the runtime-tunable configuration sections and fans
// changes out to the components that depend on them.
//
// Each section has a schema, a current document, and at most one listener.
// Registering a listener pushes the current document to it immediately.
// Replacing a section validates the payload, durably rewrites the whole
// configuration file (temp file then rename), swaps the in-memory value, and
// invokes the listener before returning, so a successful Replace means every
// dependent has applied the change.
package configbus

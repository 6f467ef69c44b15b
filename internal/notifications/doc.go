// Package notifications decides when a doorway sighting deserves an alert and
// delivers it over the configured channels.
//
// Policy owns cadence: per-identity cooldowns for recognized, live visitors
// and a repeating stranger alert while an unknown face lingers. Dispatcher
// owns delivery: it fans a Message out to every enabled Channel concurrently,
// detached from the caller, and records each Outcome without retrying.
// Channels are rebuilt from the "notifications" config section whenever it
// changes.
package notifications

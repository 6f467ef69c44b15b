// Package actuator drives the door lock.
//
// A Driver sends newline-terminated OPEN and CLOSE commands to the lock
// controller, either over a USB serial link or to an in-memory mock. Guard
// turns a trigger into one open, dwell, close, cooldown cycle on a detached
// goroutine and ignores triggers while a cycle is in progress.
package actuator

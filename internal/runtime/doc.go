// Package runtime runs the capture session: it pulls frames, asks the vision
// capabilities who is at the door and whether they are live, and turns the
// answer into overlay frames, alerts, and door cycles.
//
// Only one session runs at a time. Blocking calls (frame reads, landmark
// extraction, recognition) are offloaded to a bounded worker pool and awaited
// before the pipeline continues, so frames are processed strictly in order.
// Cancellation is checked at the top of each iteration.
package runtime

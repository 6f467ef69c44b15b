// Package framehub hands the most recent annotated frame from the capture
// loop to any number of stream consumers. Only the latest frame is kept;
// slow consumers skip frames instead of queueing them.
package framehub

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned to consumers once capture has ended.
var ErrStopped = errors.New("frame stream stopped")

// Hub is a single-slot broadcast mailbox of JPEG frames.
type Hub struct {
	mu      sync.Mutex
	frame   []byte
	seq     uint64
	active  bool
	changed chan struct{}
}

// New returns an inactive hub.
func New() *Hub {
	return &Hub{changed: make(chan struct{})}
}

// Open marks capture as running. Consumers wait for the first frame.
func (h *Hub) Open() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = true
	h.frame = nil
	h.wakeLocked()
}

// Publish replaces the latest frame. The hub takes ownership of data.
func (h *Hub) Publish(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frame = data
	h.seq++
	h.active = true
	h.wakeLocked()
}

// Clear drops the latest frame and ends every consumer's stream.
func (h *Hub) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frame = nil
	h.active = false
	h.wakeLocked()
}

// Active reports whether capture is publishing.
func (h *Hub) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// Latest returns the current frame and its sequence number.
func (h *Hub) Latest() ([]byte, uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.frame == nil {
		return nil, h.seq, false
	}
	return h.frame, h.seq, true
}

// Next blocks until a frame newer than after is published. It returns
// ErrStopped when the hub is or becomes inactive.
func (h *Hub) Next(ctx context.Context, after uint64) ([]byte, uint64, error) {
	for {
		h.mu.Lock()
		if !h.active {
			h.mu.Unlock()
			return nil, 0, ErrStopped
		}
		if h.frame != nil && h.seq > after {
			frame, seq := h.frame, h.seq
			h.mu.Unlock()
			return frame, seq, nil
		}
		wait := h.changed
		h.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-wait:
		}
	}
}

func (h *Hub) wakeLocked() {
	close(h.changed)
	h.changed = make(chan struct{})
}

package notifications

import (
	"sync"
	"time"

	"doorkeeper/internal/identity"
)

const (
	DefaultCooldown      = 300 * time.Second
	DefaultUnknownWindow = 10 * time.Second
)

// Sighting is one evaluated face from the capture loop.
type Sighting struct {
	Recognized bool
	Live       bool
	Label      string
	Access     identity.AccessLevel
}

// Policy decides alert cadence. It never delivers anything itself.
type Policy struct {
	mu            sync.Mutex
	now           func() time.Time
	cooldown      time.Duration
	unknownWindow time.Duration
	lastSent      map[string]time.Time
	unknownSince  time.Time
	unknownActive bool
}

// PolicyOption customizes a Policy.
type PolicyOption func(*Policy)

// WithPolicyClock overrides the time source.
func WithPolicyClock(now func() time.Time) PolicyOption {
	return func(p *Policy) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPolicy returns a policy with the default windows.
func NewPolicy(opts ...PolicyOption) *Policy {
	p := &Policy{
		now:           time.Now,
		cooldown:      DefaultCooldown,
		unknownWindow: DefaultUnknownWindow,
		lastSent:      make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetWindows changes the cooldown and unknown-streak windows. Existing state
// is kept and judged against the new values.
func (p *Policy) SetWindows(cooldown, unknownWindow time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cooldown >= 0 {
		p.cooldown = cooldown
	}
	if unknownWindow >= 0 {
		p.unknownWindow = unknownWindow
	}
}

// Evaluate records a sighting and returns the message to send, if any.
func (p *Policy) Evaluate(s Sighting) (Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()

	if !s.Recognized {
		if !p.unknownActive {
			p.unknownActive = true
			p.unknownSince = now
			return Message{}, false
		}
		if now.Sub(p.unknownSince) > p.unknownWindow {
			p.unknownSince = now
			return BuildMessage("", identity.AccessStranger), true
		}
		return Message{}, false
	}

	p.unknownActive = false
	p.unknownSince = time.Time{}
	if !s.Live {
		return Message{}, false
	}
	if last, seen := p.lastSent[s.Label]; seen && now.Sub(last) < p.cooldown {
		return Message{}, false
	}
	p.lastSent[s.Label] = now
	return BuildMessage(s.Label, s.Access), true
}

// Reset forgets every cooldown and the unknown streak.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSent = make(map[string]time.Time)
	p.unknownActive = false
	p.unknownSince = time.Time{}
}

// Package liveness decides whether a framed face belongs to a live person by
// counting blinks from eye landmarks.
//
// The eye aspect ratio (EAR) of each eye is computed from six landmarks,
// smoothed, and averaged. A run of at least ConsecFrames frames below the
// threshold followed by an open-eye frame counts as one blink; the subject is
// live once BlinksToVerify blinks have been seen. State is discarded after an
// inactivity window with no blink.
package liveness

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// Point is a 2D landmark position in pixels.
type Point struct {
	X float64
	Y float64
}

// Landmarks maps landmark index to position for one face.
type Landmarks []Point

// Eye landmark indices, ordered p1..p6 for the EAR formula.
var (
	RightEye = [6]int{33, 159, 158, 133, 153, 145}
	LeftEye  = [6]int{362, 380, 374, 263, 386, 385}
)

// ErrDegenerateEye reports landmarks that cannot produce an eye aspect ratio.
var ErrDegenerateEye = errors.New("liveness: degenerate eye landmarks")

const (
	smoothingWeight         = 0.7
	DefaultEARThreshold     = 0.21
	DefaultConsecFrames     = 2
	DefaultBlinksToVerify   = 2
	DefaultInactivityWindow = 10 * time.Second
)

// Thresholds are the live-reloadable blink parameters.
type Thresholds struct {
	EARThreshold   float64
	ConsecFrames   int
	BlinksToVerify int
}

// DefaultThresholds returns the stock blink parameters.
func DefaultThresholds() Thresholds {
	return Thresholds{
		EARThreshold:   DefaultEARThreshold,
		ConsecFrames:   DefaultConsecFrames,
		BlinksToVerify: DefaultBlinksToVerify,
	}
}

// State is the per-session blink state.
type State struct {
	ClosedFrames int
	TotalBlinks  int
	PrevLeftEAR  float64
	PrevRightEAR float64
	LastBlink    time.Time
	Live         bool
}

// Result is the outcome of one frame.
type Result struct {
	Live    bool
	Blinks  int
	EAR     float64
	Blinked bool
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// WithInactivityWindow overrides how long the state survives without a blink.
func WithInactivityWindow(window time.Duration) Option {
	return func(d *Detector) {
		if window > 0 {
			d.inactivity = window
		}
	}
}

// Detector is safe for concurrent use; reconfiguration may happen from the
// config bus while the capture loop calls Update.
type Detector struct {
	mu         sync.Mutex
	thresholds Thresholds
	inactivity time.Duration
	now        func() time.Time
	state      State
}

// New returns a detector with fresh state.
func New(thresholds Thresholds, opts ...Option) *Detector {
	d := &Detector{
		thresholds: thresholds,
		inactivity: DefaultInactivityWindow,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.state.LastBlink = d.now()
	return d
}

// Update feeds one frame's landmarks. A frame whose eyes cannot be measured
// returns an error and leaves the state unchanged.
func (d *Detector) Update(lm Landmarks) (Result, error) {
	right, err := EyeAspectRatio(lm, RightEye)
	if err != nil {
		return Result{}, fmt.Errorf("right eye: %w", err)
	}
	left, err := EyeAspectRatio(lm, LeftEye)
	if err != nil {
		return Result{}, fmt.Errorf("left eye: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.state.LastBlink) > d.inactivity {
		d.resetLocked(now)
	}

	right = smooth(right, d.state.PrevRightEAR)
	left = smooth(left, d.state.PrevLeftEAR)
	d.state.PrevRightEAR = right
	d.state.PrevLeftEAR = left
	overall := (right + left) / 2

	blinked := false
	if overall < d.thresholds.EARThreshold {
		d.state.ClosedFrames++
	} else {
		if d.state.ClosedFrames >= d.thresholds.ConsecFrames {
			d.state.TotalBlinks++
			d.state.LastBlink = now
			blinked = true
		}
		d.state.ClosedFrames = 0
	}
	d.state.Live = d.state.TotalBlinks >= d.thresholds.BlinksToVerify

	return Result{Live: d.state.Live, Blinks: d.state.TotalBlinks, EAR: overall, Blinked: blinked}, nil
}

// Reset discards all blink state. Call it when the subject is unknown or gone.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked(d.now())
}

func (d *Detector) resetLocked(now time.Time) {
	d.state = State{LastBlink: now}
}

// SetThresholds applies new parameters without touching in-flight counters.
func (d *Detector) SetThresholds(t Thresholds) {
	d.mu.Lock()
	d.thresholds = t
	d.mu.Unlock()
}

// SetInactivityWindow changes the no-blink reset window.
func (d *Detector) SetInactivityWindow(window time.Duration) {
	if window <= 0 {
		return
	}
	d.mu.Lock()
	d.inactivity = window
	d.mu.Unlock()
}

// Thresholds returns the active parameters.
func (d *Detector) Thresholds() Thresholds {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.thresholds
}

// State returns a copy of the current state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Live reports whether the current subject has been verified.
func (d *Detector) Live() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Live
}

// Blinks returns the running blink count.
func (d *Detector) Blinks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.TotalBlinks
}

// smooth blends the new value with the previous smoothed one, except on the
// first sample after a reset.
func smooth(value, prev float64) float64 {
	if prev == 0 {
		return value
	}
	return smoothingWeight*value + (1-smoothingWeight)*prev
}

// EyeAspectRatio computes (|p2-p6| + |p3-p5|) / (2|p1-p4|) for the eye given
// by idx.
func EyeAspectRatio(lm Landmarks, idx [6]int) (float64, error) {
	for _, i := range idx {
		if i < 0 || i >= len(lm) {
			return 0, fmt.Errorf("%w: missing landmark %d", ErrDegenerateEye, i)
		}
	}
	a := dist(lm[idx[1]], lm[idx[5]])
	b := dist(lm[idx[2]], lm[idx[4]])
	c := dist(lm[idx[0]], lm[idx[3]])
	if c == 0 || math.IsNaN(c) {
		return 0, fmt.Errorf("%w: zero eye width", ErrDegenerateEye)
	}
	return (a + b) / (2 * c), nil
}

func dist(p, q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"doorkeeper/internal/actuator"
	"doorkeeper/internal/configbus"
	"doorkeeper/internal/facecache"
	"doorkeeper/internal/framehub"
	"doorkeeper/internal/liveness"
	"doorkeeper/internal/logging"
	"doorkeeper/internal/metrics"
	"doorkeeper/internal/notifications"
	"doorkeeper/internal/vision"
)

// Status messages returned by Start and Stop.
const (
	MsgAlreadyRunning = "Video already running"
	MsgStarted        = "Started Video"
	MsgNotRunning     = "Video not running"
	MsgStopped        = "Stopped Video"
)

const (
	defaultWorkers     = 4
	defaultJPEGQuality = 80
	acquireBackoff     = 500 * time.Millisecond
)

// SourceFactory opens a frame source for a new session.
type SourceFactory func(ctx context.Context) (vision.FrameSource, error)

// Notifier delivers alerts without blocking the caller.
type Notifier interface {
	Dispatch(msg notifications.Message)
}

// Deps are the collaborators of an Orchestrator. Liveness, Policy, Overlay,
// and Hub are created when nil.
type Deps struct {
	Sources     SourceFactory
	Extractor   vision.LandmarkExtractor
	Recognizer  *vision.Recognizer
	Cache       *facecache.Cache
	Liveness    *liveness.Detector
	Overlay     *vision.Overlay
	Policy      *notifications.Policy
	Notifier    Notifier
	Guard       *actuator.Guard
	Hub         *framehub.Hub
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Workers     int
	JPEGQuality int
}

// Status describes the capture session.
type Status struct {
	Running          bool      `json:"running"`
	SessionID        string    `json:"session_id,omitempty"`
	StartedAt        time.Time `json:"started_at,omitzero"`
	FramesProcessed  uint64    `json:"frames_processed"`
	FrameErrors      uint64    `json:"frame_errors"`
	LastError        string    `json:"last_error,omitempty"`
	DoorBusy         bool      `json:"door_busy"`
	CachedIdentities int       `json:"cached_identities"`
}

// Orchestrator owns the capture session lifecycle.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger
	sem    *semaphore.Weighted

	// startMu serializes Start; mu guards session state and is never held
	// while a frame source opens.
	startMu   sync.Mutex
	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	sessionID string
	startedAt time.Time
	lastErr   string

	frames      atomic.Uint64
	frameErrors atomic.Uint64
}

// New validates deps and fills in defaults.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Sources == nil:
		return nil, errors.New("runtime: frame source factory is required")
	case deps.Extractor == nil:
		return nil, errors.New("runtime: landmark extractor is required")
	case deps.Recognizer == nil:
		return nil, errors.New("runtime: recognizer is required")
	case deps.Cache == nil:
		return nil, errors.New("runtime: embedding cache is required")
	case deps.Guard == nil:
		return nil, errors.New("runtime: door guard is required")
	case deps.Notifier == nil:
		return nil, errors.New("runtime: notifier is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Liveness == nil {
		deps.Liveness = liveness.New(liveness.DefaultThresholds())
	}
	if deps.Policy == nil {
		deps.Policy = notifications.NewPolicy()
	}
	if deps.Overlay == nil {
		deps.Overlay = vision.NewOverlay(deps.Logger)
	}
	if deps.Hub == nil {
		deps.Hub = framehub.New()
	}
	if deps.Workers <= 0 {
		deps.Workers = defaultWorkers
	}
	if deps.JPEGQuality <= 0 || deps.JPEGQuality > 100 {
		deps.JPEGQuality = defaultJPEGQuality
	}
	return &Orchestrator{
		deps:   deps,
		logger: logging.NewComponentLogger(deps.Logger, "runtime"),
		sem:    semaphore.NewWeighted(int64(deps.Workers)),
	}, nil
}

// Hub returns the frame hub fed by the capture session.
func (o *Orchestrator) Hub() *framehub.Hub { return o.deps.Hub }

// Start opens a frame source and launches the capture task. The task
// outlives ctx; use Stop to end it.
func (o *Orchestrator) Start(ctx context.Context) (string, error) {
	o.startMu.Lock()
	defer o.startMu.Unlock()
	if o.Running() {
		return MsgAlreadyRunning, nil
	}

	src, err := o.deps.Sources(ctx)
	if err != nil {
		return "", fmt.Errorf("open frame source: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	session := uuid.NewString()
	done := make(chan struct{})
	o.frames.Store(0)
	o.frameErrors.Store(0)
	o.mu.Lock()
	o.cancel = cancel
	o.done = done
	o.sessionID = session
	o.startedAt = time.Now()
	o.lastErr = ""
	o.mu.Unlock()

	o.deps.Hub.Open()
	o.deps.Metrics.SetCaptureRunning(true)
	logger := o.logger.With(logging.String(logging.FieldSessionID, session))
	logger.Info("capture session started",
		logging.String(logging.FieldEventType, "capture_started"),
	)
	go o.run(runCtx, logger, src, done)
	return MsgStarted, nil
}

// Stop cancels the capture task and waits for it to release its resources.
func (o *Orchestrator) Stop(ctx context.Context) (string, error) {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.mu.Unlock()
	if done == nil {
		return MsgNotRunning, nil
	}

	cancel()
	select {
	case <-done:
		return MsgStopped, nil
	case <-ctx.Done():
		return "", fmt.Errorf("wait for capture task: %w", ctx.Err())
	}
}

// Toggle stops a running session or starts a new one.
func (o *Orchestrator) Toggle(ctx context.Context) (string, error) {
	if o.Running() {
		return o.Stop(ctx)
	}
	return o.Start(ctx)
}

// Running reports whether a capture task is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done != nil
}

// Status snapshots the session.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	st := Status{
		Running:   o.done != nil,
		SessionID: o.sessionID,
		StartedAt: o.startedAt,
		LastError: o.lastErr,
	}
	o.mu.Unlock()
	st.FramesProcessed = o.frames.Load()
	st.FrameErrors = o.frameErrors.Load()
	st.DoorBusy = o.deps.Guard.Busy()
	st.CachedIdentities = o.deps.Cache.Len()
	return st
}

// Offload runs fn on the worker pool and waits for it. Once fn has started
// it runs to completion even if ctx is cancelled.
func (o *Orchestrator) Offload(ctx context.Context, fn func() error) error {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	result := make(chan error, 1)
	go func() {
		defer o.sem.Release(1)
		result <- fn()
	}()
	return <-result
}

// ApplyBlink is the config bus listener for the blink_config section.
func (o *Orchestrator) ApplyBlink(doc configbus.Document) {
	section, err := configbus.Decode[configbus.Blink](doc)
	if err != nil {
		logging.WarnWithContext(o.logger, "ignoring undecodable blink_config section", "liveness_config_invalid",
			logging.Error(err))
		return
	}
	o.deps.Liveness.SetThresholds(liveness.Thresholds{
		EARThreshold:   section.EARThreshold,
		ConsecFrames:   section.ConsecFrames,
		BlinksToVerify: section.BlinksToVerify,
	})
	o.logger.Info("liveness thresholds updated",
		logging.String(logging.FieldEventType, "liveness_configured"),
		logging.Float64("ear_threshold", section.EARThreshold),
		logging.Int("blink_consec_frames", section.ConsecFrames),
		logging.Int("blinks_to_verify", section.BlinksToVerify),
	)
}

// ApplyTiming is the config bus listener for the timing section.
func (o *Orchestrator) ApplyTiming(doc configbus.Document) {
	section, err := configbus.Decode[configbus.Timing](doc)
	if err != nil {
		logging.WarnWithContext(o.logger, "ignoring undecodable timing section", "timing_config_invalid",
			logging.Error(err))
		return
	}
	o.deps.Policy.SetWindows(seconds(section.NotificationCooldownSeconds), seconds(section.UnknownAlertSeconds))
	o.deps.Liveness.SetInactivityWindow(seconds(section.LivenessInactivitySeconds))
	o.deps.Guard.SetTiming(seconds(section.DoorDwellSeconds), seconds(section.DoorCooldownSeconds))
	o.logger.Info("timing windows updated",
		logging.String(logging.FieldEventType, "timing_configured"),
		logging.Float64("notification_cooldown_seconds", section.NotificationCooldownSeconds),
		logging.Float64("unknown_alert_seconds", section.UnknownAlertSeconds),
		logging.Float64("door_dwell_seconds", section.DoorDwellSeconds),
	)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

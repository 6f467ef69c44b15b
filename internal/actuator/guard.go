package actuator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"doorkeeper/internal/logging"
)

const (
	DefaultDwell    = 10 * time.Second
	DefaultCooldown = 5 * time.Second

	commandTimeout = 2 * time.Second
)

// Guard runs at most one door cycle at a time.
type Guard struct {
	driver Driver
	logger *slog.Logger
	sleep  func(time.Duration)
	onDone func(opened, closed bool)

	busy     atomic.Bool
	dwell    atomic.Int64
	cooldown atomic.Int64
	wg       sync.WaitGroup
}

// GuardOption customizes a Guard.
type GuardOption func(*Guard)

// WithSleep replaces time.Sleep for the dwell and cooldown waits.
func WithSleep(sleep func(time.Duration)) GuardOption {
	return func(g *Guard) {
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

// WithCycleObserver is called after every finished cycle with whether each
// command succeeded.
func WithCycleObserver(fn func(opened, closed bool)) GuardOption {
	return func(g *Guard) { g.onDone = fn }
}

// NewGuard wraps driver with the default dwell and cooldown.
func NewGuard(driver Driver, logger *slog.Logger, opts ...GuardOption) *Guard {
	if logger == nil {
		logger = logging.NewNop()
	}
	g := &Guard{
		driver: driver,
		logger: logging.NewComponentLogger(logger, "door-guard"),
		sleep:  time.Sleep,
	}
	g.dwell.Store(int64(DefaultDwell))
	g.cooldown.Store(int64(DefaultCooldown))
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetTiming changes the hold-open and cooldown durations for future cycles.
func (g *Guard) SetTiming(dwell, cooldown time.Duration) {
	if dwell >= 0 {
		g.dwell.Store(int64(dwell))
	}
	if cooldown >= 0 {
		g.cooldown.Store(int64(cooldown))
	}
}

// Busy reports whether a cycle is in progress.
func (g *Guard) Busy() bool {
	return g.busy.Load()
}

// Trigger starts a door cycle unless one is running. It reports whether a
// cycle was started. The cycle is detached from the caller and cannot be
// cancelled.
func (g *Guard) Trigger() bool {
	if !g.busy.CompareAndSwap(false, true) {
		return false
	}
	g.wg.Add(1)
	go g.cycle()
	return true
}

// Wait blocks until any running cycle has finished.
func (g *Guard) Wait() {
	g.wg.Wait()
}

func (g *Guard) cycle() {
	defer g.wg.Done()
	defer g.busy.Store(false)

	dwell := time.Duration(g.dwell.Load())
	cooldown := time.Duration(g.cooldown.Load())
	g.logger.Info("door cycle started",
		logging.String(logging.FieldEventType, "door_cycle_started"),
		logging.Duration("dwell", dwell),
		logging.Duration("cooldown", cooldown),
	)

	opened := g.send(CommandOpen)
	g.sleep(dwell)
	closed := g.send(CommandClose)
	g.sleep(cooldown)

	if g.onDone != nil {
		g.onDone(opened, closed)
	}
	g.logger.Info("door cycle finished",
		logging.String(logging.FieldEventType, "door_cycle_finished"),
		logging.Bool("opened", opened),
		logging.Bool("closed", closed),
	)
}

func (g *Guard) send(cmd Command) bool {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := g.driver.Send(ctx, cmd); err != nil {
		logging.ErrorWithContext(g.logger, "lock command failed", "door_command_failed",
			logging.String("command", string(cmd)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the lock controller connection"),
			logging.String(logging.FieldImpact, "door may not have moved"),
		)
		return false
	}
	return true
}

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"doorkeeper/internal/actuator"
	"doorkeeper/internal/api"
	"doorkeeper/internal/config"
	"doorkeeper/internal/configbus"
	"doorkeeper/internal/facecache"
	"doorkeeper/internal/faults"
	"doorkeeper/internal/identity"
	"doorkeeper/internal/logging"
	"doorkeeper/internal/notifications"
	"doorkeeper/internal/runtime"
	"doorkeeper/internal/vision"
)

const stopTimeout = 10 * time.Second

// Components are the long-lived collaborators owned by the daemon. Hotplug,
// Embedder, and API are optional. Lock, when set, is an instance lock the
// caller already holds and releases; otherwise Start takes its own and Stop
// releases it.
type Components struct {
	Store      *identity.Store
	Bus        *configbus.Bus
	Cache      *facecache.Cache
	Runtime    *runtime.Orchestrator
	Dispatcher *notifications.Dispatcher
	Guard      *actuator.Guard
	Driver     actuator.Driver
	Hotplug    *actuator.HotplugMonitor
	Lock       *InstanceLock
	Embedder   vision.Embedder
	API        *api.Server
}

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	comps  Components

	lockPath string
	ownLock  *InstanceLock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running           bool
	PID               int
	LockPath          string
	DatabasePath      string
	RuntimeConfigPath string
	APIAddress        string
	Video             runtime.Status
	Channels          []string
}

// New constructs a daemon around already-built components.
func New(cfg *config.Config, comps Components, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || comps.Store == nil || comps.Bus == nil || comps.Runtime == nil || comps.Dispatcher == nil || comps.Guard == nil {
		return nil, errors.New("daemon requires config, store, config bus, runtime, dispatcher, and door guard")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	if comps.Lock != nil {
		lockPath = comps.Lock.Path()
	}
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		comps:    comps,
		lockPath: lockPath,
	}, nil
}

// Start acquires the daemon lock and brings up the hotplug monitor, the API
// server, and, when configured, the capture session.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if d.comps.Lock == nil {
		lock, err := AcquireInstanceLock(d.lockPath)
		if err != nil {
			return err
		}
		d.ownLock = lock
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.comps.Hotplug.Start(runCtx); err != nil {
		d.logger.Warn("hotplug monitor unavailable", logging.Error(err))
	}
	if err := d.comps.API.Start(runCtx); err != nil {
		cancel()
		d.comps.Hotplug.Stop()
		d.releaseOwnLock()
		return faults.Wrap(faults.ErrStartupFatal, "daemon", "start", "api server", err)
	}
	d.cancel = cancel
	d.running.Store(true)

	d.logger.Info("doorkeeper daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.comps.API.Addr()),
	)

	if d.cfg.Runtime.AutoStart {
		if msg, err := d.comps.Runtime.Start(runCtx); err != nil {
			logging.WarnWithContext(d.logger, "capture autostart failed", "capture_autostart_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check camera.url and start capture with `doorkeeper video start`"),
				logging.String(logging.FieldImpact, "the door will not open until capture runs"),
			)
		} else {
			d.logger.Info("capture autostart", logging.String("result", msg))
		}
	}
	return nil
}

// Stop ends the capture session, waits for in-flight door cycles and alerts,
// and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if _, err := d.comps.Runtime.Stop(stopCtx); err != nil {
		d.logger.Warn("capture did not stop cleanly", logging.Error(err))
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.comps.API.Stop()
	d.comps.Hotplug.Stop()
	d.comps.Guard.Wait()
	d.comps.Dispatcher.Wait()

	d.releaseOwnLock()
	d.running.Store(false)
	d.logger.Info("doorkeeper daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

func (d *Daemon) releaseOwnLock() {
	if err := d.ownLock.Release(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ownLock = nil
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if err := d.comps.Dispatcher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
	}
	if d.comps.Driver != nil {
		if err := d.comps.Driver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close lock driver: %w", err))
		}
	}
	if err := d.comps.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:           d.running.Load(),
		PID:               os.Getpid(),
		LockPath:          d.lockPath,
		DatabasePath:      d.comps.Store.Path(),
		RuntimeConfigPath: d.comps.Bus.Path(),
		APIAddress:        d.comps.API.Addr(),
		Video:             d.comps.Runtime.Status(),
		Channels:          d.comps.Dispatcher.Enabled(),
	}
}

// Store returns the identity store.
func (d *Daemon) Store() *identity.Store { return d.comps.Store }

// Bus returns the config bus.
func (d *Daemon) Bus() *configbus.Bus { return d.comps.Bus }

// Runtime returns the capture orchestrator.
func (d *Daemon) Runtime() *runtime.Orchestrator { return d.comps.Runtime }

// EnrollImage embeds a JPEG and stores it as a sample of identity id.
func (d *Daemon) EnrollImage(ctx context.Context, id int64, label string, jpegData []byte) (*identity.Identity, error) {
	if d.comps.Embedder == nil {
		return nil, faults.Wrap(faults.ErrValidation, "daemon", "enroll image", "no embedder configured", nil)
	}
	if _, err := d.comps.Store.GetIdentity(ctx, id); err != nil {
		return nil, err
	}
	frame, err := vision.DecodeFrame(jpegData)
	if err != nil {
		return nil, faults.Wrap(faults.ErrValidation, "daemon", "enroll image", "decode image", err)
	}
	vec, err := d.comps.Embedder.Embed(ctx, frame)
	if errors.Is(err, vision.ErrNoFace) {
		return nil, faults.Wrap(faults.ErrValidation, "daemon", "enroll image", "no face found in image", err)
	}
	if err != nil {
		return nil, err
	}
	return d.comps.Store.AddSample(ctx, id, label, vec)
}

// TestNotification delivers a test message on every enabled channel.
func (d *Daemon) TestNotification(ctx context.Context) []notifications.Result {
	return d.comps.Dispatcher.Deliver(ctx, notifications.TestMessage())
}

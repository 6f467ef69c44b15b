package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"doorkeeper/internal/actuator"
	"doorkeeper/internal/api"
	"doorkeeper/internal/config"
	"doorkeeper/internal/configbus"
	"doorkeeper/internal/daemon"
	"doorkeeper/internal/facecache"
	"doorkeeper/internal/faults"
	"doorkeeper/internal/framehub"
	"doorkeeper/internal/identity"
	"doorkeeper/internal/ipc"
	"doorkeeper/internal/liveness"
	"doorkeeper/internal/logging"
	"doorkeeper/internal/metrics"
	"doorkeeper/internal/notifications"
	"doorkeeper/internal/runtime"
	"doorkeeper/internal/vision"
)

const sidecarProbeTimeout = 3 * time.Second

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run wires the daemon components and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		FilePath:    cfg.LogPath(),
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	// Held before the PID file or the lock controller is touched.
	lock, err := daemon.AcquireInstanceLock(cfg.LockPath())
	if err != nil {
		logging.ErrorWithContext(logger, "daemon lock unavailable", "daemon_lock_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, faults.Kind(err)),
			logging.String(logging.FieldErrorHint, "stop the running daemon or check "+cfg.LockPath()),
		)
		return err
	}
	defer lock.Release()

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := build(signalCtx, cfg, lock, logger)
	if err != nil {
		logging.ErrorWithContext(logger, "daemon assembly failed", "daemon_assembly_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, faults.Kind(err)),
			logging.String(logging.FieldErrorHint, "check config.toml and the lock controller connection"),
		)
		return err
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the api bind address and that no other daemon is running"),
			logging.String(logging.FieldImpact, "the door is not being monitored"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("doorkeeper daemon shutting down")
	return nil
}

// build opens the store and config bus and connects every runtime component.
// Resources opened before a failure are released.
func build(ctx context.Context, cfg *config.Config, lock *daemon.InstanceLock, logger *slog.Logger) (_ *daemon.Daemon, err error) {
	store, err := identity.Open(cfg, logger)
	if err != nil {
		return nil, faults.Wrap(faults.ErrStartupFatal, "daemonrun", "open store", cfg.DatabasePath(), err)
	}
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()

	bus, err := configbus.New(cfg.RuntimeConfigPath(), logger, configbus.DefaultSchemas()...)
	if err != nil {
		return nil, faults.Wrap(faults.ErrStartupFatal, "daemonrun", "open config bus", cfg.RuntimeConfigPath(), err)
	}

	m := metrics.New()

	cache := facecache.New(store, logger)
	store.Subscribe(cache)
	if err := cache.Build(ctx); err != nil {
		return nil, faults.Wrap(faults.ErrStartupFatal, "daemonrun", "build face cache", "", err)
	}
	m.RegisterCacheSize(cache.Len)

	dispatcher := notifications.NewDispatcher(notifications.SettingsFromConfig(cfg), logger,
		notifications.WithObserver(func(channel string, outcome notifications.Outcome) {
			m.IncrementNotification(channel, string(outcome))
		}))

	driver, err := actuator.NewDriver(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = driver.Close()
		}
	}()
	guard := actuator.NewGuard(driver, logger, actuator.WithCycleObserver(m.ObserveDoorCycle))

	var hotplug *actuator.HotplugMonitor
	if serial, ok := driver.(*actuator.Serial); ok && cfg.Lock.Hotplug {
		hotplug = actuator.NewHotplugMonitor(logger, serial.Device, func(ctx context.Context, ev actuator.HotplugEvent) {
			if ev.Action != "add" {
				return
			}
			if err := serial.Reconnect(ctx); err != nil {
				logging.WarnWithContext(logger, "lock controller reconnect failed", "lock_reconnect_failed",
					logging.String("device", ev.Device),
					logging.Error(err),
					logging.String(logging.FieldImpact, "door commands fail until the controller answers"),
				)
			}
		})
	}

	sidecar := vision.NewSidecar(cfg.Vision.SidecarURL, cfg.VisionTimeout())
	probeSidecar(ctx, logger, sidecar, cfg)

	recognizer := vision.NewRecognizer(sidecar, logger)
	overlay := vision.NewOverlay(logger)
	hub := framehub.New()
	orch, err := runtime.New(runtime.Deps{
		Sources: func(context.Context) (vision.FrameSource, error) {
			return vision.NewMJPEGSource(cfg.Camera.URL, cfg.FrameTimeout(), logger), nil
		},
		Extractor:   sidecar,
		Recognizer:  recognizer,
		Cache:       cache,
		Liveness:    liveness.New(liveness.DefaultThresholds()),
		Overlay:     overlay,
		Policy:      notifications.NewPolicy(),
		Notifier:    dispatcher,
		Guard:       guard,
		Hub:         hub,
		Metrics:     m,
		Logger:      logger,
		Workers:     cfg.Runtime.OffloadWorkers,
		JPEGQuality: cfg.Runtime.JPEGQuality,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}

	listeners := map[string]configbus.Listener{
		configbus.SectionFaceRecognition: recognizer.Apply,
		configbus.SectionOverlay:         overlay.Apply,
		configbus.SectionNotifications:   dispatcher.Apply,
		configbus.SectionBlink:           orch.ApplyBlink,
		configbus.SectionTiming:          orch.ApplyTiming,
	}
	for section, listener := range listeners {
		if err := bus.Register(section, listener); err != nil {
			return nil, fmt.Errorf("register %s listener: %w", section, err)
		}
	}

	server := api.New(api.Options{
		Bind:      cfg.Paths.APIBind,
		Store:     store,
		Bus:       bus,
		Video:     orch,
		Hub:       hub,
		Embedder:  sidecar,
		Metrics:   m.Handler(),
		Logger:    logger,
		StreamFPS: cfg.Runtime.StreamFPS,
	})

	d, err := daemon.New(cfg, daemon.Components{
		Store:      store,
		Bus:        bus,
		Cache:      cache,
		Runtime:    orch,
		Dispatcher: dispatcher,
		Guard:      guard,
		Driver:     driver,
		Hotplug:    hotplug,
		Lock:       lock,
		Embedder:   sidecar,
		API:        server,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	return d, nil
}

func probeSidecar(ctx context.Context, logger *slog.Logger, sidecar *vision.Sidecar, cfg *config.Config) {
	probeCtx, cancel := context.WithTimeout(ctx, sidecarProbeTimeout)
	defer cancel()
	err := sidecar.Ping(probeCtx)
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("camera_url", cfg.Camera.URL),
		logging.String("sidecar_url", cfg.Vision.SidecarURL),
		logging.Bool("sidecar_available", err == nil),
		logging.String("lock_driver", cfg.Lock.Driver),
		logging.Bool("api_enabled", cfg.Paths.APIBind != ""),
	)
	if err != nil {
		logging.WarnWithContext(logger, "vision sidecar unreachable", "sidecar_unreachable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "frames will fail until the sidecar answers"),
			logging.String(logging.FieldErrorHint, "check vision.sidecar_url"),
		)
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

package daemon_test

import (
	"context"
	"errors"
	"testing"

	"doorkeeper/internal/actuator"
	"doorkeeper/internal/config"
	"doorkeeper/internal/configbus"
	"doorkeeper/internal/daemon"
	"doorkeeper/internal/embedding"
	"doorkeeper/internal/facecache"
	"doorkeeper/internal/faults"
	"doorkeeper/internal/identity"
	"doorkeeper/internal/notifications"
	"doorkeeper/internal/runtime"
	"doorkeeper/internal/testsupport"
	"doorkeeper/internal/vision"
)

type blockingSource struct{}

func (blockingSource) Read(ctx context.Context) (vision.Frame, error) {
	<-ctx.Done()
	return vision.Frame{}, ctx.Err()
}

func (blockingSource) Close() error { return nil }

type noFaces struct{}

func (noFaces) Process(context.Context, vision.Frame) ([]vision.Face, error) { return nil, nil }

type stubEmbedder struct{ err error }

func (s stubEmbedder) Embed(context.Context, vision.Frame) (embedding.Vector, error) {
	return testsupport.Axis(4, 1), s.err
}

func newDaemon(t *testing.T, cfg *config.Config, embedder vision.Embedder) *daemon.Daemon {
	t.Helper()
	return newDaemonWith(t, cfg, embedder, nil)
}

func newDaemonWith(t *testing.T, cfg *config.Config, embedder vision.Embedder, lock *daemon.InstanceLock) *daemon.Daemon {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	bus, err := configbus.New(cfg.RuntimeConfigPath(), nil, configbus.DefaultSchemas()...)
	if err != nil {
		t.Fatalf("configbus.New: %v", err)
	}
	cache := facecache.New(store, nil)
	if err := cache.Build(context.Background()); err != nil {
		t.Fatalf("cache.Build: %v", err)
	}
	driver := actuator.NewMock(nil)
	guard := actuator.NewGuard(driver, nil)
	dispatcher := notifications.NewDispatcher(notifications.Settings{}, nil)
	orch, err := runtime.New(runtime.Deps{
		Sources:    func(context.Context) (vision.FrameSource, error) { return blockingSource{}, nil },
		Extractor:  noFaces{},
		Recognizer: vision.NewRecognizer(embedder, nil),
		Cache:      cache,
		Notifier:   dispatcher,
		Guard:      guard,
	})
	if err != nil {
		t.Fatalf("runtime.New: %v", err)
	}
	d, err := daemon.New(cfg, daemon.Components{
		Store:      store,
		Bus:        bus,
		Cache:      cache,
		Runtime:    orch,
		Dispatcher: dispatcher,
		Guard:      guard,
		Driver:     driver,
		Lock:       lock,
		Embedder:   embedder,
	}, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Stop()
	})
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Runtime.AutoStart = true
	d := newDaemon(t, cfg, stubEmbedder{})
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status()
	if !status.Running || !status.Video.Running {
		t.Fatalf("expected daemon and capture running, got %+v", status)
	}
	if status.DatabasePath != cfg.DatabasePath() || status.RuntimeConfigPath != cfg.RuntimeConfigPath() {
		t.Fatalf("unexpected paths %+v", status)
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status()
	if status.Running || status.Video.Running {
		t.Fatalf("expected daemon and capture stopped, got %+v", status)
	}
}

func TestSecondInstanceIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg, nil)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	second := newDaemon(t, cfg, nil)
	err := second.Start(context.Background())
	if !faults.Fatal(err) {
		t.Fatalf("expected a startup failure from the lock, got %v", err)
	}

	if _, err := daemon.AcquireInstanceLock(cfg.LockPath()); !faults.Fatal(err) {
		t.Fatalf("AcquireInstanceLock while held = %v", err)
	}

	first.Stop()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("lock should be free after Stop: %v", err)
	}
}

func TestCallerHeldLockIsNotReleasedByStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	lock, err := daemon.AcquireInstanceLock(cfg.LockPath())
	if err != nil {
		t.Fatalf("AcquireInstanceLock: %v", err)
	}
	t.Cleanup(func() { _ = lock.Release() })

	d := newDaemonWith(t, cfg, nil, lock)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start with a held lock: %v", err)
	}
	d.Stop()

	if _, err := daemon.AcquireInstanceLock(cfg.LockPath()); !faults.Fatal(err) {
		t.Fatalf("caller's lock must survive Stop, AcquireInstanceLock = %v", err)
	}
}

func TestEnrollImage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, stubEmbedder{})
	ctx := context.Background()
	ident := testsupport.Enroll(t, d.Store(), "Ada", identity.AccessFamily)

	data := testsupport.JPEG(t, 8, 8)
	updated, err := d.EnrollImage(ctx, ident.ID, "front", data)
	if err != nil {
		t.Fatalf("EnrollImage: %v", err)
	}
	if updated.SampleCount != 1 {
		t.Fatalf("expected one sample, got %+v", updated)
	}

	if _, err := d.EnrollImage(ctx, ident.ID, "junk", []byte("nope")); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("undecodable image should be a validation error, got %v", err)
	}
	if _, err := d.EnrollImage(ctx, 999, "front", data); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("unknown identity should be not found, got %v", err)
	}
}

func TestEnrollImageWithoutFace(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, stubEmbedder{err: vision.ErrNoFace})
	ident := testsupport.Enroll(t, d.Store(), "Ada", identity.AccessFamily)
	_, err := d.EnrollImage(context.Background(), ident.ID, "front", testsupport.JPEG(t, 8, 8))
	if !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestTestNotificationWithoutChannels(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, nil)
	if results := d.TestNotification(context.Background()); len(results) != 0 {
		t.Fatalf("expected no deliveries without enabled channels, got %+v", results)
	}
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"doorkeeper/internal/actuator"
	"doorkeeper/internal/config"
	"doorkeeper/internal/configbus"
	"doorkeeper/internal/daemon"
	"doorkeeper/internal/embedding"
	"doorkeeper/internal/facecache"
	"doorkeeper/internal/ipc"
	"doorkeeper/internal/logging"
	"doorkeeper/internal/notifications"
	"doorkeeper/internal/runtime"
	"doorkeeper/internal/testsupport"
	"doorkeeper/internal/vision"
)

type idleSource struct{}

func (idleSource) Read(ctx context.Context) (vision.Frame, error) {
	<-ctx.Done()
	return vision.Frame{}, ctx.Err()
}

func (idleSource) Close() error { return nil }

type noFaces struct{}

func (noFaces) Process(context.Context, vision.Frame) ([]vision.Face, error) { return nil, nil }

type axisEmbedder struct{}

func (axisEmbedder) Embed(context.Context, vision.Frame) (embedding.Vector, error) {
	return testsupport.Axis(4, 0), nil
}

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithoutAPI(), testsupport.WithShortSocket())

	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	logger := logging.NewNop()
	store := testsupport.MustOpenStore(t, cfg)
	bus, err := configbus.New(cfg.RuntimeConfigPath(), logger, configbus.DefaultSchemas()...)
	if err != nil {
		t.Fatalf("configbus.New: %v", err)
	}
	cache := facecache.New(store, logger)
	store.Subscribe(cache)
	driver := actuator.NewMock(logger)
	guard := actuator.NewGuard(driver, logger)
	dispatcher := notifications.NewDispatcher(notifications.Settings{}, logger)
	orch, err := runtime.New(runtime.Deps{
		Sources:    func(context.Context) (vision.FrameSource, error) { return idleSource{}, nil },
		Extractor:  noFaces{},
		Recognizer: vision.NewRecognizer(axisEmbedder{}, logger),
		Cache:      cache,
		Notifier:   dispatcher,
		Guard:      guard,
		Logger:     logger,
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
		Embedder:   axisEmbedder{},
	}, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Stop()
	})

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		socketPath: cfg.Paths.SocketPath,
		configPath: configPath,
	}
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLI(t, args, env.socketPath, env.configPath)
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if socket != "" {
		flags = append(flags, "--socket", socket)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

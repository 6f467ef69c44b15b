package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"doorkeeper/internal/config"
)

// ConfigOption adjusts a generated test config.
type ConfigOption func(testing.TB, *config.Config)

// NewConfig returns defaults rooted in a per-test temp directory, with the
// mock lock driver and hotplug disabled so no serial hardware is touched.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.SocketPath = filepath.Join(base, "doorkeeper.sock")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Lock.Driver = config.LockDriverMock
	cfg.Lock.Hotplug = false

	for _, opt := range opts {
		opt(t, &cfg)
	}
	return &cfg
}

// WithoutAPI leaves the HTTP listener unbound.
func WithoutAPI() ConfigOption {
	return func(_ testing.TB, cfg *config.Config) {
		cfg.Paths.APIBind = ""
	}
}

// WithShortSocket moves the control socket under a short temp prefix.
// t.TempDir paths can exceed the sun_path limit of unix sockets.
func WithShortSocket() ConfigOption {
	return func(t testing.TB, cfg *config.Config) {
		t.Helper()
		dir, err := os.MkdirTemp("", "dk")
		if err != nil {
			t.Fatalf("MkdirTemp: %v", err)
		}
		t.Cleanup(func() { os.RemoveAll(dir) })
		cfg.Paths.SocketPath = filepath.Join(dir, "doorkeeper.sock")
	}
}

// BaseDir returns the temp directory backing cfg.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

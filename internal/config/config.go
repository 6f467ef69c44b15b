package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	SocketPath string `toml:"socket_path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Camera describes the MJPEG source the capture loop reads from.
type Camera struct {
	URL                 string `toml:"url"`
	FrameTimeoutSeconds int    `toml:"frame_timeout_seconds"`
}

// Vision points at the inference sidecar that produces landmarks and
// embeddings.
type Vision struct {
	SidecarURL            string `toml:"sidecar_url"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Lock configures the door lock actuator.
type Lock struct {
	Driver                  string `toml:"driver"`
	Device                  string `toml:"device"`
	BaudRate                int    `toml:"baud_rate"`
	HandshakeTimeoutSeconds int    `toml:"handshake_timeout_seconds"`
	HandshakeRetries        int    `toml:"handshake_retries"`
	Hotplug                 bool   `toml:"hotplug"`
}

// Runtime configures the capture loop and frame streaming.
type Runtime struct {
	OffloadWorkers int  `toml:"offload_workers"`
	StreamFPS      int  `toml:"stream_fps"`
	JPEGQuality    int  `toml:"jpeg_quality"`
	AutoStart      bool `toml:"auto_start"`
}

// Channels holds credentials for alert delivery. Recipients and the enabled
// set are runtime-tunable and live on the config bus.
type Channels struct {
	RequestTimeout  int    `toml:"request_timeout"`
	SMTPHost        string `toml:"smtp_host"`
	SMTPPort        int    `toml:"smtp_port"`
	SMTPUsername    string `toml:"smtp_username"`
	SMTPPassword    string `toml:"smtp_password"`
	SMTPFrom        string `toml:"smtp_from"`
	TwilioSID       string `toml:"twilio_account_sid"`
	TwilioAuthToken string `toml:"twilio_auth_token"`
	TwilioFrom      string `toml:"twilio_from"`
	TwilioBaseURL   string `toml:"twilio_base_url"`
	NtfyServer      string `toml:"ntfy_server"`
	MQTTClientID    string `toml:"mqtt_client_id"`
}

// Config encapsulates all static configuration values for doorkeeper.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories, API bind address, IPC socket
//   - Logging: log format and level
//   - Camera: MJPEG frame source
//   - Vision: landmark and embedding sidecar
//   - Lock: actuator driver and serial handshake
//   - Runtime: capture loop workers and stream pacing
//   - Channels: alert delivery credentials
type Config struct {
	Paths    Paths    `toml:"paths"`
	Logging  Logging  `toml:"logging"`
	Camera   Camera   `toml:"camera"`
	Vision   Vision   `toml:"vision"`
	Lock     Lock     `toml:"lock"`
	Runtime  Runtime  `toml:"runtime"`
	Channels Channels `toml:"channels"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("doorkeeper.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath is the SQLite identity database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "identities.db")
}

// RuntimeConfigPath is where the config bus persists tunable sections.
func (c *Config) RuntimeConfigPath() string {
	return filepath.Join(c.Paths.DataDir, "runtime.toml")
}

// LockPath is the single-instance daemon lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "doorkeeper.lock")
}

// PIDPath records the running daemon's process ID.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "doorkeeper.pid")
}

// LogPath is the daemon log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "doorkeeper.log")
}

// FrameTimeout bounds a single camera read.
func (c *Config) FrameTimeout() time.Duration {
	return time.Duration(c.Camera.FrameTimeoutSeconds) * time.Second
}

// VisionTimeout bounds a single sidecar request.
func (c *Config) VisionTimeout() time.Duration {
	return time.Duration(c.Vision.RequestTimeoutSeconds) * time.Second
}

// HandshakeTimeout bounds the wait for the actuator's ready line.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Lock.HandshakeTimeoutSeconds) * time.Second
}

// ChannelTimeout bounds a single alert delivery.
func (c *Config) ChannelTimeout() time.Duration {
	return time.Duration(c.Channels.RequestTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateEndpoints(); err != nil {
		return err
	}
	if err := c.validateLock(); err != nil {
		return err
	}
	if err := c.validateRuntime(); err != nil {
		return err
	}
	if err := c.validateChannels(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json", "auto":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateEndpoints() error {
	if err := validateHTTPURL("camera.url", c.Camera.URL); err != nil {
		return err
	}
	if c.Camera.FrameTimeoutSeconds <= 0 {
		return errors.New("camera.frame_timeout_seconds must be positive")
	}
	if err := validateHTTPURL("vision.sidecar_url", c.Vision.SidecarURL); err != nil {
		return err
	}
	if c.Vision.RequestTimeoutSeconds <= 0 {
		return errors.New("vision.request_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLock() error {
	switch c.Lock.Driver {
	case LockDriverSerial, LockDriverMock:
	default:
		return fmt.Errorf("lock.driver: unsupported value %q", c.Lock.Driver)
	}
	if c.Lock.BaudRate <= 0 {
		return errors.New("lock.baud_rate must be positive")
	}
	if c.Lock.HandshakeTimeoutSeconds <= 0 {
		return errors.New("lock.handshake_timeout_seconds must be positive")
	}
	if c.Lock.HandshakeRetries < 1 {
		return errors.New("lock.handshake_retries must be at least 1")
	}
	return nil
}

func (c *Config) validateRuntime() error {
	if c.Runtime.OffloadWorkers < 1 {
		return errors.New("runtime.offload_workers must be at least 1")
	}
	if c.Runtime.StreamFPS < 1 || c.Runtime.StreamFPS > 60 {
		return errors.New("runtime.stream_fps must be between 1 and 60")
	}
	if c.Runtime.JPEGQuality < 1 || c.Runtime.JPEGQuality > 100 {
		return errors.New("runtime.jpeg_quality must be between 1 and 100")
	}
	return nil
}

func (c *Config) validateChannels() error {
	if c.Channels.RequestTimeout <= 0 {
		return errors.New("channels.request_timeout must be positive")
	}
	if c.Channels.SMTPHost != "" && (c.Channels.SMTPPort <= 0 || c.Channels.SMTPPort > 65535) {
		return errors.New("channels.smtp_port must be a valid port")
	}
	if err := validateHTTPURL("channels.twilio_base_url", c.Channels.TwilioBaseURL); err != nil {
		return err
	}
	return validateHTTPURL("channels.ntfy_server", c.Channels.NtfyServer)
}

func validateHTTPURL(key, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s must be set", key)
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", key)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", key)
	}
	return nil
}

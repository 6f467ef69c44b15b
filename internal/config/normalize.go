package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeEndpoints()
	c.normalizeLock()
	c.normalizeChannels()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = filepath.Join(c.Paths.DataDir, socketFileName)
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeEndpoints() {
	c.Camera.URL = strings.TrimSpace(c.Camera.URL)
	c.Vision.SidecarURL = strings.TrimRight(strings.TrimSpace(c.Vision.SidecarURL), "/")
}

func (c *Config) normalizeLock() {
	c.Lock.Driver = strings.ToLower(strings.TrimSpace(c.Lock.Driver))
	if c.Lock.Driver == "" {
		c.Lock.Driver = defaultLockDriver
	}
	c.Lock.Device = strings.TrimSpace(c.Lock.Device)
}

func (c *Config) normalizeChannels() {
	if c.Channels.SMTPPassword == "" {
		if value, ok := os.LookupEnv(smtpPasswordEnv); ok {
			c.Channels.SMTPPassword = value
		}
	}
	if c.Channels.TwilioAuthToken == "" {
		if value, ok := os.LookupEnv(twilioAuthTokenEnv); ok {
			c.Channels.TwilioAuthToken = value
		}
	}
	c.Channels.SMTPHost = strings.TrimSpace(c.Channels.SMTPHost)
	c.Channels.TwilioBaseURL = strings.TrimRight(strings.TrimSpace(c.Channels.TwilioBaseURL), "/")
	if c.Channels.TwilioBaseURL == "" {
		c.Channels.TwilioBaseURL = defaultTwilioBaseURL
	}
	c.Channels.NtfyServer = strings.TrimRight(strings.TrimSpace(c.Channels.NtfyServer), "/")
	if c.Channels.NtfyServer == "" {
		c.Channels.NtfyServer = defaultNtfyServer
	}
	if strings.TrimSpace(c.Channels.MQTTClientID) == "" {
		c.Channels.MQTTClientID = defaultMQTTClientID
	}
}

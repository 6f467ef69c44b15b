package config

const (
	defaultConfigPath       = "~/.config/doorkeeper/config.toml"
	defaultDataDir          = "~/.local/share/doorkeeper"
	defaultAPIBind          = "127.0.0.1:8000"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultCameraURL        = "http://127.0.0.1:8081/stream.mjpg"
	defaultFrameTimeout     = 5
	defaultSidecarURL       = "http://127.0.0.1:8090"
	defaultVisionTimeout    = 5
	defaultLockDriver       = LockDriverSerial
	defaultBaudRate         = 9600
	defaultHandshakeTimeout = 5
	defaultHandshakeRetries = 3
	defaultOffloadWorkers   = 4
	defaultStreamFPS        = 30
	defaultJPEGQuality      = 80
	defaultChannelTimeout   = 10
	defaultSMTPPort         = 587
	defaultTwilioBaseURL    = "https://api.twilio.com"
	defaultNtfyServer       = "https://ntfy.sh"
	defaultMQTTClientID     = "doorkeeper"
	socketFileName          = "doorkeeper.sock"
	smtpPasswordEnv         = "DOORKEEPER_SMTP_PASSWORD"
	twilioAuthTokenEnv      = "DOORKEEPER_TWILIO_AUTH_TOKEN"
)

// Lock drivers.
const (
	LockDriverSerial = "serial"
	LockDriverMock   = "mock"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			APIBind: defaultAPIBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Camera: Camera{
			URL:                 defaultCameraURL,
			FrameTimeoutSeconds: defaultFrameTimeout,
		},
		Vision: Vision{
			SidecarURL:            defaultSidecarURL,
			RequestTimeoutSeconds: defaultVisionTimeout,
		},
		Lock: Lock{
			Driver:                  defaultLockDriver,
			BaudRate:                defaultBaudRate,
			HandshakeTimeoutSeconds: defaultHandshakeTimeout,
			HandshakeRetries:        defaultHandshakeRetries,
			Hotplug:                 true,
		},
		Runtime: Runtime{
			OffloadWorkers: defaultOffloadWorkers,
			StreamFPS:      defaultStreamFPS,
			JPEGQuality:    defaultJPEGQuality,
		},
		Channels: Channels{
			RequestTimeout: defaultChannelTimeout,
			SMTPPort:       defaultSMTPPort,
			TwilioBaseURL:  defaultTwilioBaseURL,
			NtfyServer:     defaultNtfyServer,
			MQTTClientID:   defaultMQTTClientID,
		},
	}
}

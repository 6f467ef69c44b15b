package actuator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"doorkeeper/internal/config"
	"doorkeeper/internal/faults"
)

// Command is a lock controller instruction.
type Command string

const (
	CommandOpen  Command = "OPEN"
	CommandClose Command = "CLOSE"
)

// Driver sends commands to the lock controller.
type Driver interface {
	Send(ctx context.Context, cmd Command) error
	Close() error
}

// NewDriver builds the driver selected by the lock config. The serial driver
// performs its handshake before returning; failure is a startup error.
func NewDriver(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Lock.Driver)) {
	case config.LockDriverMock:
		return NewMock(logger), nil
	case config.LockDriverSerial, "":
		return OpenSerial(ctx, SerialOptions{
			Device:           cfg.Lock.Device,
			BaudRate:         cfg.Lock.BaudRate,
			HandshakeTimeout: cfg.HandshakeTimeout(),
			Retries:          cfg.Lock.HandshakeRetries,
		}, logger)
	default:
		return nil, faults.Wrap(faults.ErrStartupFatal, "actuator", "driver", fmt.Sprintf("unknown lock driver %q", cfg.Lock.Driver), nil)
	}
}

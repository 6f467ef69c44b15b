package actuator

import (
	"context"
	"log/slog"
	"sync"

	"doorkeeper/internal/logging"
)

// Mock records commands instead of moving a lock.
type Mock struct {
	logger *slog.Logger

	mu       sync.Mutex
	commands []Command
	failOn   map[Command]error
}

// NewMock returns a driver that logs and records every command.
func NewMock(logger *slog.Logger) *Mock {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Mock{logger: logging.NewComponentLogger(logger, "actuator-mock")}
}

// Send records cmd.
func (m *Mock) Send(_ context.Context, cmd Command) error {
	m.mu.Lock()
	m.commands = append(m.commands, cmd)
	err := m.failOn[cmd]
	m.mu.Unlock()
	m.logger.Debug("mock lock command", logging.String("command", string(cmd)))
	return err
}

// FailOn makes every future cmd return err.
func (m *Mock) FailOn(cmd Command, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == nil {
		m.failOn = make(map[Command]error)
	}
	m.failOn[cmd] = err
}

// Commands returns the commands sent so far.
func (m *Mock) Commands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Command(nil), m.commands...)
}

func (m *Mock) Close() error { return nil }

package actuator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"doorkeeper/internal/faults"
	"doorkeeper/internal/logging"
)

const (
	defaultBaudRate         = 9600
	defaultHandshakeTimeout = 5 * time.Second
	defaultRetries          = 3
	defaultRetryDelay       = time.Second
	handshakePoll           = 50 * time.Millisecond
)

// SerialOptions configures the serial lock driver.
type SerialOptions struct {
	// Device is the tty path. Empty means discover a USB serial adapter.
	Device           string
	BaudRate         int
	HandshakeTimeout time.Duration
	Retries          int
	RetryDelay       time.Duration

	glob         func(pattern string) ([]string, error)
	evalSymlinks func(path string) (string, error)
	open         func(path string, baud int) (io.ReadWriteCloser, error)
}

func (o *SerialOptions) applyDefaults() {
	if o.BaudRate <= 0 {
		o.BaudRate = defaultBaudRate
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.Retries <= 0 {
		o.Retries = defaultRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.glob == nil {
		o.glob = filepath.Glob
	}
	if o.evalSymlinks == nil {
		o.evalSymlinks = filepath.EvalSymlinks
	}
	if o.open == nil {
		o.open = openTTY
	}
}

// Serial talks to a microcontroller lock over a USB serial link.
type Serial struct {
	opts   SerialOptions
	logger *slog.Logger

	mu     sync.Mutex
	port   io.ReadWriteCloser
	device string
}

// OpenSerial finds the lock controller, opens it, and waits for its ready
// line. Exhausting the retries returns an ErrStartupFatal error.
func OpenSerial(ctx context.Context, opts SerialOptions, logger *slog.Logger) (*Serial, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	opts.applyDefaults()
	s := &Serial{opts: opts, logger: logging.NewComponentLogger(logger, "actuator")}
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Device returns the tty path in use.
func (s *Serial) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Send writes cmd followed by a newline.
func (s *Serial) Send(_ context.Context, cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return faults.Wrap(faults.ErrTransientIO, "actuator", "send", "serial port is not open", nil)
	}
	line := strings.TrimSpace(string(cmd)) + "\n"
	if _, err := io.WriteString(s.port, line); err != nil {
		return faults.Wrap(faults.ErrTransientIO, "actuator", "send", string(cmd), err)
	}
	s.logger.Debug("lock command sent",
		logging.String("command", string(cmd)),
		logging.String("device", s.device),
	)
	return nil
}

// Reconnect closes the current port and repeats discovery and handshake.
func (s *Serial) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.port != nil {
		_ = s.port.Close()
		s.port = nil
	}
	s.mu.Unlock()
	return s.connect(ctx)
}

// Close releases the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *Serial) connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= s.opts.Retries; attempt++ {
		device, port, line, err := s.attempt(ctx)
		if err == nil {
			s.mu.Lock()
			s.port = port
			s.device = device
			s.mu.Unlock()
			s.logger.Info("lock controller connected",
				logging.String(logging.FieldEventType, "actuator_connected"),
				logging.String("device", device),
				logging.Int("baud_rate", s.opts.BaudRate),
				logging.String("ready_line", line),
			)
			return nil
		}
		lastErr = err
		s.logger.Warn("lock controller connection attempt failed",
			logging.Int("attempt", attempt),
			logging.Int("retries", s.opts.Retries),
			logging.Error(err),
			logging.String(logging.FieldEventType, "actuator_connect_retry"),
		)
		if attempt == s.opts.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return faults.Wrap(faults.ErrStartupFatal, "actuator", "connect", "cancelled", ctx.Err())
		case <-time.After(s.opts.RetryDelay):
		}
	}
	return faults.Wrap(faults.ErrStartupFatal, "actuator", "connect",
		fmt.Sprintf("lock controller unavailable after %d attempts", s.opts.Retries), lastErr)
}

func (s *Serial) attempt(ctx context.Context) (string, io.ReadWriteCloser, string, error) {
	device := strings.TrimSpace(s.opts.Device)
	if device == "" {
		found, err := discoverPort(s.opts.glob, s.opts.evalSymlinks)
		if err != nil {
			return "", nil, "", err
		}
		device = found
	}
	port, err := s.opts.open(device, s.opts.BaudRate)
	if err != nil {
		return "", nil, "", fmt.Errorf("open %s: %w", device, err)
	}
	line, err := awaitReadyLine(ctx, port, s.opts.HandshakeTimeout)
	if err != nil {
		_ = port.Close()
		return "", nil, "", fmt.Errorf("handshake on %s: %w", device, err)
	}
	return device, port, line, nil
}

// Stable by-id names are preferred; they carry the adapter vendor.
var byIDMarkers = []string{"arduino", "ch340", "ch341", "wch"}

var portPatterns = []string{
	"/dev/ttyACM*",
	"/dev/cu.usbmodem*",
	"/dev/ttyUSB*",
}

var errNoPort = errors.New("no lock controller serial port found")

func discoverPort(glob func(string) ([]string, error), evalSymlinks func(string) (string, error)) (string, error) {
	if links, err := glob("/dev/serial/by-id/*"); err == nil {
		sort.Strings(links)
		for _, link := range links {
			name := strings.ToLower(filepath.Base(link))
			for _, marker := range byIDMarkers {
				if !strings.Contains(name, marker) {
					continue
				}
				if target, err := evalSymlinks(link); err == nil {
					return target, nil
				}
				return link, nil
			}
		}
	}
	for _, pattern := range portPatterns {
		matches, err := glob(pattern)
		if err != nil || len(matches) == 0 {
			continue
		}
		sort.Strings(matches)
		return matches[0], nil
	}
	return "", errNoPort
}

// awaitReadyLine waits for the controller to print any non-empty line after
// its reset.
func awaitReadyLine(ctx context.Context, r io.Reader, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	var pending []byte
	buf := make([]byte, 128)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				idx := bytes.IndexByte(pending, '\n')
				if idx < 0 {
					break
				}
				line := strings.TrimSpace(string(pending[:idx]))
				pending = pending[idx+1:]
				if line != "" {
					return line, nil
				}
			}
		}
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrDeadlineExceeded) {
			return "", err
		}
		if n == 0 {
			time.Sleep(handshakePoll)
		}
	}
	return "", fmt.Errorf("no ready line within %s", timeout)
}

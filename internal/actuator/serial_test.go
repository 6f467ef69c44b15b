package actuator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"doorkeeper/internal/faults"
)

// fakePort serves scripted reads and records writes.
type fakePort struct {
	mu     sync.Mutex
	reads  [][]byte
	writes bytes.Buffer
	closed bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.reads) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.reads[0])
	p.reads = p.reads[1:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func staticGlob(matches map[string][]string) func(string) ([]string, error) {
	return func(pattern string) ([]string, error) {
		return matches[pattern], nil
	}
}

func TestDiscoverPortPrefersByID(t *testing.T) {
	glob := staticGlob(map[string][]string{
		"/dev/serial/by-id/*": {"/dev/serial/by-id/usb-FTDI_x", "/dev/serial/by-id/usb-Arduino__www.arduino.cc__0043-if00"},
		"/dev/ttyACM*":        {"/dev/ttyACM1", "/dev/ttyACM0"},
	})
	eval := func(path string) (string, error) { return "/dev/ttyACM3", nil }
	got, err := discoverPort(glob, eval)
	if err != nil {
		t.Fatalf("discoverPort: %v", err)
	}
	if got != "/dev/ttyACM3" {
		t.Fatalf("got %q", got)
	}
}

func TestDiscoverPortFallsBackToPatterns(t *testing.T) {
	glob := staticGlob(map[string][]string{
		"/dev/ttyUSB*": {"/dev/ttyUSB0"},
		"/dev/ttyACM*": {"/dev/ttyACM1", "/dev/ttyACM0"},
	})
	got, err := discoverPort(glob, func(p string) (string, error) { return p, nil })
	if err != nil {
		t.Fatalf("discoverPort: %v", err)
	}
	if got != "/dev/ttyACM0" {
		t.Fatalf("got %q", got)
	}

	if _, err := discoverPort(staticGlob(nil), nil); !errors.Is(err, errNoPort) {
		t.Fatalf("expected errNoPort, got %v", err)
	}
}

func TestOpenSerialHandshakeAndSend(t *testing.T) {
	port := &fakePort{reads: [][]byte{[]byte("Serv"), []byte("o ready\r\n")}}
	var openedPath string
	opts := SerialOptions{
		Device:           "/dev/ttyACM0",
		HandshakeTimeout: time.Second,
		open: func(path string, baud int) (io.ReadWriteCloser, error) {
			openedPath = path
			if baud != defaultBaudRate {
				t.Errorf("baud = %d", baud)
			}
			return port, nil
		},
	}
	s, err := OpenSerial(context.Background(), opts, nil)
	if err != nil {
		t.Fatalf("OpenSerial: %v", err)
	}
	if openedPath != "/dev/ttyACM0" || s.Device() != "/dev/ttyACM0" {
		t.Fatalf("opened %q, device %q", openedPath, s.Device())
	}
	if err := s.Send(context.Background(), CommandOpen); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Send(context.Background(), CommandClose); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := port.writes.String(); got != "OPEN\nCLOSE\n" {
		t.Fatalf("writes = %q", got)
	}
	if err := s.Close(); err != nil || !port.closed {
		t.Fatalf("Close: %v closed=%v", err, port.closed)
	}
	if err := s.Send(context.Background(), CommandOpen); !errors.Is(err, faults.ErrTransientIO) {
		t.Fatalf("send after close should be transient io, got %v", err)
	}
}

func TestOpenSerialRetriesThenFails(t *testing.T) {
	attempts := 0
	opts := SerialOptions{
		Device:           "/dev/ttyUSB0",
		HandshakeTimeout: 120 * time.Millisecond,
		Retries:          3,
		RetryDelay:       time.Millisecond,
		open: func(string, int) (io.ReadWriteCloser, error) {
			attempts++
			return &fakePort{}, nil
		},
	}
	_, err := OpenSerial(context.Background(), opts, nil)
	if !faults.Fatal(err) {
		t.Fatalf("expected startup fatal, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d", attempts)
	}
}

func TestOpenSerialRecoversOnRetry(t *testing.T) {
	attempts := 0
	opts := SerialOptions{
		Device:           "/dev/ttyUSB0",
		HandshakeTimeout: 120 * time.Millisecond,
		RetryDelay:       time.Millisecond,
		open: func(string, int) (io.ReadWriteCloser, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("device busy")
			}
			return &fakePort{reads: [][]byte{[]byte("ready\n")}}, nil
		},
	}
	if _, err := OpenSerial(context.Background(), opts, nil); err != nil {
		t.Fatalf("OpenSerial: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d", attempts)
	}
}

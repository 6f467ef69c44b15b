package actuator_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"doorkeeper/internal/actuator"
)

// gatedSleep blocks each sleep until the test releases it.
type gatedSleep struct {
	mu    sync.Mutex
	slept []time.Duration
	gate  chan struct{}
}

func newGatedSleep() *gatedSleep {
	return &gatedSleep{gate: make(chan struct{})}
}

func (s *gatedSleep) sleep(d time.Duration) {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	<-s.gate
}

func (s *gatedSleep) release() { close(s.gate) }

func (s *gatedSleep) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.slept...)
}

func TestGuardSingleCyclePerTrigger(t *testing.T) {
	mock := actuator.NewMock(nil)
	sleeper := newGatedSleep()
	guard := actuator.NewGuard(mock, nil, actuator.WithSleep(sleeper.sleep))

	if !guard.Trigger() {
		t.Fatal("first trigger should start a cycle")
	}
	if !guard.Busy() {
		t.Fatal("guard should be busy as soon as Trigger returns")
	}
	for range 10 {
		if guard.Trigger() {
			t.Fatal("trigger while busy must be ignored")
		}
	}

	sleeper.release()
	guard.Wait()

	got := mock.Commands()
	want := []actuator.Command{actuator.CommandOpen, actuator.CommandClose}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("commands = %v, want %v", got, want)
	}
	if guard.Busy() {
		t.Fatal("guard should be idle after the cycle")
	}
	if d := sleeper.durations(); len(d) != 2 || d[0] != actuator.DefaultDwell || d[1] != actuator.DefaultCooldown {
		t.Fatalf("sleeps = %v", d)
	}

	if !guard.Trigger() {
		t.Fatal("guard should accept a new trigger once idle")
	}
	guard.Wait()
	if n := len(mock.Commands()); n != 4 {
		t.Fatalf("expected a second open/close pair, got %d commands", n)
	}
}

func TestGuardContinuesAfterCommandFailure(t *testing.T) {
	mock := actuator.NewMock(nil)
	mock.FailOn(actuator.CommandOpen, errors.New("serial write failed"))

	var opened, closed bool
	guard := actuator.NewGuard(mock, nil,
		actuator.WithSleep(func(time.Duration) {}),
		actuator.WithCycleObserver(func(o, c bool) { opened, closed = o, c }),
	)
	guard.Trigger()
	guard.Wait()

	if opened || !closed {
		t.Fatalf("observer got opened=%v closed=%v", opened, closed)
	}
	if len(mock.Commands()) != 2 {
		t.Fatalf("close must still be sent after a failed open: %v", mock.Commands())
	}
	if guard.Busy() {
		t.Fatal("busy flag must clear after a failed cycle")
	}
}

func TestGuardSetTiming(t *testing.T) {
	var (
		mu    sync.Mutex
		slept []time.Duration
	)
	guard := actuator.NewGuard(actuator.NewMock(nil), nil, actuator.WithSleep(func(d time.Duration) {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
	}))
	guard.SetTiming(3*time.Second, time.Second)
	guard.Trigger()
	guard.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(slept) != 2 || slept[0] != 3*time.Second || slept[1] != time.Second {
		t.Fatalf("sleeps = %v", slept)
	}
}

package framehub_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"doorkeeper/internal/framehub"
)

func TestNextReturnsLatestFrame(t *testing.T) {
	hub := framehub.New()
	hub.Open()

	done := make(chan []byte, 1)
	go func() {
		frame, _, err := hub.Next(context.Background(), 0)
		if err != nil {
			t.Errorf("Next: %v", err)
		}
		done <- frame
	}()

	hub.Publish([]byte("one"))
	select {
	case got := <-done:
		if string(got) != "one" {
			t.Fatalf("frame = %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer was not woken")
	}

	hub.Publish([]byte("two"))
	hub.Publish([]byte("three"))
	frame, seq, err := hub.Next(context.Background(), 1)
	if err != nil || string(frame) != "three" || seq != 3 {
		t.Fatalf("Next = %q, %d, %v", frame, seq, err)
	}
}

func TestClearStopsConsumers(t *testing.T) {
	hub := framehub.New()
	hub.Open()
	hub.Publish([]byte("frame"))

	errs := make(chan error, 1)
	go func() {
		_, _, err := hub.Next(context.Background(), 1)
		errs <- err
	}()
	hub.Clear()

	select {
	case err := <-errs:
		if !errors.Is(err, framehub.ErrStopped) {
			t.Fatalf("expected ErrStopped, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer was not released by Clear")
	}
	if _, _, ok := hub.Latest(); ok {
		t.Fatal("Latest should be empty after Clear")
	}
	if hub.Active() {
		t.Fatal("hub should be inactive after Clear")
	}
}

func TestNextHonoursContext(t *testing.T) {
	hub := framehub.New()
	hub.Open()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := hub.Next(ctx, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestInactiveHub(t *testing.T) {
	hub := framehub.New()
	if _, _, err := hub.Next(context.Background(), 0); !errors.Is(err, framehub.ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

package daemonrun_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"doorkeeper/internal/daemonrun"
	"doorkeeper/internal/faults"
	"doorkeeper/internal/ipc"
	"doorkeeper/internal/testsupport"
)

func TestSecondRunLeavesRunningInstanceIntact(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithShortSocket())
	cfg.Runtime.AutoStart = false
	opts := daemonrun.Options{LogLevel: "error"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- daemonrun.Run(ctx, cfg, opts) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(cfg.Paths.SocketPath); err == nil {
			break
		}
		select {
		case err := <-done:
			if err != nil && strings.Contains(err.Error(), "operation not permitted") {
				t.Skipf("skipping daemon run test: %v", err)
			}
			t.Fatalf("first Run exited early: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("first daemon never opened its socket")
		}
		time.Sleep(10 * time.Millisecond)
	}

	err := daemonrun.Run(context.Background(), cfg, opts)
	if !faults.Fatal(err) {
		t.Fatalf("second Run = %v, want a startup-fatal lock error", err)
	}

	if _, err := os.Stat(cfg.PIDPath()); err != nil {
		t.Fatalf("running daemon lost its pid file: %v", err)
	}
	client, err := ipc.Dial(cfg.Paths.SocketPath)
	if err != nil {
		t.Fatalf("running daemon lost its socket: %v", err)
	}
	defer client.Close()
	for {
		status, err := client.Status()
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if status.Running {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first daemon never reported running")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("first Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("first daemon did not shut down")
	}
}

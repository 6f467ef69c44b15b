package faults_test

import (
	"errors"
	"strings"
	"testing"

	"doorkeeper/internal/faults"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := faults.Wrap(faults.ErrTransientIO, "identity", "add sample", "insert failed", base)
	if !errors.Is(err, faults.ErrTransientIO) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"identity", "add sample", "insert failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := faults.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, faults.ErrTransientIO) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "component failure") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestKindAndFatal(t *testing.T) {
	cases := []struct {
		err   error
		kind  string
		fatal bool
	}{
		{faults.Wrap(faults.ErrNotFound, "cache", "get", "", nil), "not_found", false},
		{faults.Wrap(faults.ErrValidation, "configbus", "replace", "", nil), "validation", false},
		{faults.Wrap(faults.ErrCorruptedData, "identity", "decode", "", nil), "corrupted_data", false},
		{faults.Wrap(faults.ErrStartupFatal, "actuator", "handshake", "", nil), "startup_fatal", true},
		{errors.New("plain"), "transient_io", false},
		{nil, "", false},
	}
	for _, tc := range cases {
		if got := faults.Kind(tc.err); got != tc.kind {
			t.Fatalf("Kind(%v) = %q, want %q", tc.err, got, tc.kind)
		}
		if got := faults.Fatal(tc.err); got != tc.fatal {
			t.Fatalf("Fatal(%v) = %v, want %v", tc.err, got, tc.fatal)
		}
	}
}

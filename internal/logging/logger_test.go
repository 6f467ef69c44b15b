package logging_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"doorkeeper/internal/config"
	"doorkeeper/internal/logging"
)

func TestConsoleLoggerFormatsComponentAndFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "runtime").Info("capture started", logging.String(logging.FieldSessionID, "abc"), logging.Error(errors.New("two words")))
	logger.Debug("hidden")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	for _, want := range []string{"INFO runtime[abc]: capture started", `error="two words"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, "hidden") || strings.Contains(line, ".go:") || strings.Contains(line, "session_id=") {
		t.Fatalf("unexpected debug output or caller in %q", line)
	}
}

func TestFilePathReceivesJSON(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "daemon.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{filepath.Join(dir, "console.log")}, FilePath: filePath})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "handshake slow", "lock_handshake")

	content, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(content, &record); err != nil {
		t.Fatalf("expected json record, got %q: %v", content, err)
	}
	if record["msg"] != "handshake slow" || record["level"] != "warn" {
		t.Fatalf("unexpected record %v", record)
	}
	if record[logging.FieldEventType] != "lock_handshake" || record[logging.FieldImpact] == nil || record[logging.FieldErrorHint] == nil {
		t.Fatalf("expected enforced context fields, got %v", record)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewFromConfigCreatesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")
	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello")
	if _, err := os.Stat(cfg.LogPath()); err != nil {
		t.Fatalf("expected log file: %v", err)
	}
}

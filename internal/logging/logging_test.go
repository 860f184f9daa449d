package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSessionLoggerLevels(t *testing.T) {
	dir := t.TempDir()
	log, err := NewSessionLogger(dir, "run-1", false)
	if err != nil {
		t.Fatalf("opening logger: %v", err)
	}
	if !log.Enabled {
		t.Fatal("expected Enabled=true on success")
	}
	log.Logger.Debug("hidden")
	log.Logger.Info("shown")
	if err := log.Close(); err != nil {
		t.Fatalf("closing logger: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "run-1.log"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "hidden") {
		t.Fatal("debug entry written without debug enabled")
	}
	if !strings.Contains(string(raw), "shown") {
		t.Fatal("info entry missing from log file")
	}
}

func TestSessionLoggerDebug(t *testing.T) {
	dir := t.TempDir()
	log, err := NewSessionLogger(dir, "run-2", true)
	if err != nil {
		t.Fatalf("opening logger: %v", err)
	}
	log.Logger.Debug("verbose")
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}
	raw, _ := os.ReadFile(log.Path)
	if !strings.Contains(string(raw), "verbose") {
		t.Fatal("debug entry missing with debug enabled")
	}
}

func TestSessionLoggerErrorFallsBackToNop(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	log, err := NewSessionLogger(file, "run-3", false)
	if err == nil {
		t.Fatal("expected error for log dir collision")
	}
	if log.Enabled {
		t.Fatal("expected Enabled=false on error")
	}
	log.Logger.Info("dropped")
	if err := log.Close(); err != nil {
		t.Fatalf("nop close: %v", err)
	}
}

package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gloss/internal/infra/config"
)

func TestNewTextLogger(t *testing.T) {
	log, closer, err := New(config.LoggerConfig{Level: "debug", Format: "text", Output: "stderr"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closer()

	if !log.Enabled(nil, slog.LevelDebug) {
		t.Error("debug level should be enabled")
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gloss.log")
	log, closer, err := New(config.LoggerConfig{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	log.Info("hello", "key", "value")
	if err := closer(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"key":"value"`) {
		t.Errorf("log file missing structured attr: %s", data)
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if parseLevel("bogus") != slog.LevelInfo {
		t.Error("unknown level should default to info")
	}
	if parseLevel("WARN") != slog.LevelWarn {
		t.Error("levels should be case-insensitive")
	}
}

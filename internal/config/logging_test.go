package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := LogLevel(in); got != want {
			t.Errorf("LogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupLoggerFansOut(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("source harvested", "source", "Test", "items", 3)

	if !strings.Contains(stderr.String(), "source harvested") {
		t.Error("expected text output on stderr writer")
	}

	var entry map[string]any
	if err := json.Unmarshal(file.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON on file writer: %v", err)
	}
	if entry["msg"] != "source harvested" || entry["source"] != "Test" {
		t.Errorf("unexpected JSON entry: %v", entry)
	}
}

func TestSetupLoggerRespectsLevel(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelWarn)

	logger.Info("quiet")
	logger.Warn("loud")

	if strings.Contains(stderr.String(), "quiet") {
		t.Error("info should be suppressed at warn level")
	}
	if !strings.Contains(stderr.String(), "loud") {
		t.Error("warn should pass at warn level")
	}
}

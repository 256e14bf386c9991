package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"healthnet/pkg/config"
)

func TestLoggerJSONEntryShape(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.With("component", "realtime.session").Info("Reconnect scheduled", "attempt", 2, "open", true)

	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}

	if entry.Level != "info" {
		t.Fatalf("level = %q, want %q", entry.Level, "info")
	}
	if entry.Message != "Reconnect scheduled" {
		t.Fatalf("message = %q, want %q", entry.Message, "Reconnect scheduled")
	}
	if entry.Component != "realtime.session" {
		t.Fatalf("component = %q, want %q", entry.Component, "realtime.session")
	}
	if entry.Timestamp == "" {
		t.Fatal("expected timestamp")
	}
	if got := entry.Fields["attempt"]; got != float64(2) {
		t.Fatalf("fields.attempt = %v, want 2", got)
	}
	if got := entry.Fields["open"]; got != true {
		t.Fatalf("fields.open = %v, want true", got)
	}
}

func TestLoggerGroupedFields(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.WithGroup("sync").Warn("Flush failed", "tag", "sync-metrics")

	var entry LogEntry
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}
	if got := entry.Fields["sync.tag"]; got != "sync-metrics" {
		t.Fatalf("fields[sync.tag] = %v, want sync-metrics", got)
	}
}

func TestLoggerLiftsSessionAndFlattensErrors(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.With("session_id", "0b6f5a8e").Warn("Dial failed",
		"error", errors.New("connection refused"),
		slog.Group("", slog.Int("attempt", 3)),
	)

	var entry LogEntry
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}
	if entry.Session != "0b6f5a8e" {
		t.Fatalf("session_id = %q", entry.Session)
	}
	if _, ok := entry.Fields["session_id"]; ok {
		t.Fatal("session_id must not be duplicated in fields")
	}
	if got := entry.Fields["error"]; got != "connection refused" {
		t.Fatalf("fields.error = %v, want error text", got)
	}
	if got := entry.Fields["attempt"]; got != float64(3) {
		t.Fatalf("fields.attempt = %v, want inline group merged", got)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Ignored")
	if got := strings.TrimSpace(out.String()); got != "" {
		t.Fatalf("expected no output for info, got %q", got)
	}

	log.Error("Kept")
	if got := strings.TrimSpace(out.String()); got == "" {
		t.Fatal("expected output for error")
	}
}

func TestLoggerEnvironmentOverrides(t *testing.T) {
	t.Setenv("HEALTHNET_LOG_LEVEL", "debug")
	t.Setenv("HEALTHNET_LOG_FORMAT", "text")

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Debug("Debug enabled", "component", "test")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected debug output with env override")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format override, got %q", line)
	}
}

func TestLoggerRejectsUnknownSettings(t *testing.T) {
	unsetLoggingEnv(t)

	if _, err := newWithWriter(config.LoggingConfig{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
	if _, err := newWithWriter(config.LoggingConfig{Level: "verbose"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unsupported level")
	}
}

func TestLoggerDefaultsToTextFormat(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Default format")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format by default, got %q", line)
	}
}

func TestNewFileAppends(t *testing.T) {
	unsetLoggingEnv(t)

	path := filepath.Join(t.TempDir(), "logs", "chat.log")
	log, closer, err := NewFile(config.LoggingConfig{Format: "json"}, path)
	if err != nil {
		t.Fatalf("NewFile error: %v", err)
	}
	log.Info("Session opened")
	if err := closer.Close(); err != nil {
		t.Fatalf("close log file: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), `"message":"Session opened"`) {
		t.Fatalf("log file = %q, want session entry", string(content))
	}
}

func unsetLoggingEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HEALTHNET_LOG_LEVEL", "")
	t.Setenv("HEALTHNET_LOG_FORMAT", "")
	t.Setenv("HEALTHNET_LOG_ADD_SOURCE", "")
}

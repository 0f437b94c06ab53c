package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "JSON format to stdout",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "Console format to stderr",
			config: Config{
				Level:  "debug",
				Format: "console",
				Output: "stderr",
			},
			wantErr: false,
		},
		{
			name: "Invalid log level defaults to info",
			config: Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "Unwritable file path",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: "/nonexistent-dir/transcribe.log",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("Expected non-nil logger")
			}
		})
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()

	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Failed to decode log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn")

	logger.Info("dropped")
	logger.Warn("kept")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0]["message"] != "kept" {
		t.Errorf("Expected message 'kept', got %v", entries[0]["message"])
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	logger.WithUserID(42).
		WithJobID("job-456").
		WithFields(map[string]interface{}{"plan": "free"}).
		Info("hello")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry["user_id"] != float64(42) {
		t.Errorf("Expected user_id 42, got %v", entry["user_id"])
	}
	if entry["job_id"] != "job-456" {
		t.Errorf("Expected job_id job-456, got %v", entry["job_id"])
	}
	if entry["plan"] != "free" {
		t.Errorf("Expected plan free, got %v", entry["plan"])
	}
}

func TestLogPipelineEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	logger.LogPipelineEvent(7, "admitted", "ok", map[string]interface{}{
		"duration_minutes": 1.5,
	})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0]["gate"] != "admitted" {
		t.Errorf("Expected gate admitted, got %v", entries[0]["gate"])
	}
	if entries[0]["duration_minutes"] != 1.5 {
		t.Errorf("Expected duration_minutes 1.5, got %v", entries[0]["duration_minutes"])
	}
}

func TestLogDatabaseOperationError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	// Successful operations are logged at debug and filtered out here
	logger.LogDatabaseOperation("get_quota", 2*time.Millisecond, nil)
	logger.LogDatabaseOperation("debit", 3*time.Millisecond, errors.New("connection reset"))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0]["level"] != "error" {
		t.Errorf("Expected error level, got %v", entries[0]["level"])
	}
	if entries[0]["operation"] != "debit" {
		t.Errorf("Expected operation debit, got %v", entries[0]["operation"])
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Info("ignored")
	logger.LogQuotaEvent(1, "debit", 1, 2, 5)
	logger.LogHTTPRequest("GET", "/health", "127.0.0.1", 200, time.Millisecond)
	logger.LogStorageOperation("download", "media", "a.ogg", 10, time.Millisecond, nil)
}

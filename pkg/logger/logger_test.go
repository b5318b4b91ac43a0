package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Failed to parse log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLoggerOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: InfoLevel, Format: "json", Service: "memoryd", Output: &buf})

	log.Info("record created", RecordIDField("01HZX"), CategoryField("general"))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry["msg"] != "record created" {
		t.Errorf("Expected msg='record created', got %v", entry["msg"])
	}
	if entry["service"] != "memoryd" {
		t.Errorf("Expected service='memoryd', got %v", entry["service"])
	}
	if entry["record_id"] != "01HZX" {
		t.Errorf("Expected record_id='01HZX', got %v", entry["record_id"])
	}
	if entry["level"] != "info" {
		t.Errorf("Expected level='info', got %v", entry["level"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: WarnLevel, Output: &buf})

	log.Debug("debug message")
	log.Info("info message")
	log.Warn("warn message")
	log.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("Messages below warn should be dropped, got %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("Expected warn and error messages, got %s", out)
	}
}

func TestLoggerImmutability(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(Config{Level: InfoLevel, Output: &buf})
	child := base.WithFields(StringField("key1", "value1"))

	base.Info("from base")
	child.Info("from child")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if _, ok := entries[0]["key1"]; ok {
		t.Error("Base logger must not inherit child fields")
	}
	if entries[1]["key1"] != "value1" {
		t.Errorf("Expected key1='value1' on child, got %v", entries[1]["key1"])
	}
}

func TestFieldHelpers(t *testing.T) {
	tests := []struct {
		name     string
		field    LogField
		expected LogField
	}{
		{"StringField", StringField("test", "value"), LogField{Key: "test", Value: "value"}},
		{"IntField", IntField("count", 42), LogField{Key: "count", Value: "42"}},
		{"Int64Field", Int64Field("access_count", 7), LogField{Key: "access_count", Value: "7"}},
		{"Float64Field", Float64Field("score", 12.5), LogField{Key: "score", Value: "12.5"}},
		{"BoolField", BoolField("degraded", true), LogField{Key: "degraded", Value: "true"}},
		{"DurationField", DurationField("duration", 5*time.Second), LogField{Key: "duration", Value: "5s"}},
		{"ErrorField nil", ErrorField(nil), LogField{Key: "error", Value: "<nil>"}},
		{"SessionIDField", SessionIDField("session-1"), LogField{Key: "session_id", Value: "session-1"}},
		{"BackendField", BackendField("sqlite"), LogField{Key: "backend", Value: "sqlite"}},
		{"HTTPStatusField", HTTPStatusField(200), LogField{Key: "http_status", Value: "200"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.field != tt.expected {
				t.Errorf("Expected %+v, got %+v", tt.expected, tt.field)
			}
		})
	}
}

func TestTimeField(t *testing.T) {
	field := TimeField("timestamp", time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC))
	if field.Value != "2023-01-01T12:00:00Z" {
		t.Errorf("Expected RFC3339 timestamp, got %s", field.Value)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"bogus":   InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestEnsureHTTPCorrelationID(t *testing.T) {
	t.Run("keeps valid incoming id", func(t *testing.T) {
		id := uuid.New().String()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(CorrelationIDHeader, id)

		req, got := EnsureHTTPCorrelationID(req)
		if got != id {
			t.Errorf("Expected %s, got %s", id, got)
		}
		if GetCorrelationIDFromContext(req.Context()) != id {
			t.Error("Correlation ID missing from request context")
		}
	})

	t.Run("replaces malformed id", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(CorrelationIDHeader, "not-a-uuid")

		_, got := EnsureHTTPCorrelationID(req)
		if _, err := uuid.Parse(got); err != nil {
			t.Errorf("Expected generated UUID, got %s", got)
		}
	})
}

func TestGetLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(Config{Level: InfoLevel, Output: &buf})

	ctx := WithCorrelationIDContext(context.Background(), "abc")
	GetLoggerFromContext(ctx, base).Info("tagged")
	GetLoggerFromContext(context.Background(), base).Info("untagged")

	entries := decodeLines(t, &buf)
	if entries[0][CorrelationIDFieldKey] != "abc" {
		t.Errorf("Expected correlation_id='abc', got %v", entries[0][CorrelationIDFieldKey])
	}
	if _, ok := entries[1][CorrelationIDFieldKey]; ok {
		t.Error("Untagged logger must not carry correlation_id")
	}
}

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	return m
}

func TestKeyValueArgsBecomeFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "DEBUG", JSONFormat: true}).WithComponent("automation")

	l.Info("tick complete", "action", "none", "err", errors.New("boom"))

	m := decode(t, &buf)
	if m["component"] != "automation" {
		t.Errorf("component = %v", m["component"])
	}
	if m["action"] != "none" || m["err"] != "boom" {
		t.Errorf("fields not recorded: %v", m)
	}
	if m["message"] != "tick complete" {
		t.Errorf("message = %v", m["message"])
	}
}

func TestPrintfArgs(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "INFO", JSONFormat: true})

	l.Warn("refresh failed for %s after %d tries", "trending", 2)

	m := decode(t, &buf)
	if m["message"] != "refresh failed for trending after 2 tries" {
		t.Errorf("message = %v", m["message"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "WARN", JSONFormat: true})

	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at WARN, got %q", buf.String())
	}
	l.Error("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("error should pass at WARN, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"WARNING", WARN},
		{"error", ERROR},
		{"", INFO},
		{"verbose", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf, &Config{Level: "INFO", JSONFormat: true})

	ctx, l := WithTraceContext(context.Background(), base)
	if FromContext(ctx) != l {
		t.Fatal("logger not stored in context")
	}
	FromContext(ctx).Info("hello")
	m := decode(t, &buf)
	id, _ := m["trace_id"].(string)
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("trace_id %q is not a UUID: %v", id, err)
	}

	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext must fall back to the default logger")
	}
}

package logsink

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestSink_Event(t *testing.T) {
	var buf bytes.Buffer
	s := New("hl7-ingest", &buf, zerolog.DebugLevel)

	s.Info("message parsed", Fields{
		"messageId": "MSG001",
		"patients":  2,
		"elapsed":   1500 * time.Millisecond,
	})
	s.Error("upload failed", Fields{"err": errors.New("bucket missing")})

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	first := lines[0]
	if first["stream"] != "hl7-ingest" || first["level"] != "info" || first["message"] != "message parsed" {
		t.Errorf("unexpected first line %v", first)
	}
	if first["messageId"] != "MSG001" || first["patients"] != float64(2) {
		t.Errorf("expected structured fields, got %v", first)
	}
	if _, ok := first["time"]; !ok {
		t.Error("expected timestamp field")
	}
	if lines[1]["level"] != "error" || lines[1]["err"] != "bucket missing" {
		t.Errorf("unexpected error line %v", lines[1])
	}
}

func TestSink_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	s := New("hl7-ingest", &buf, zerolog.WarnLevel)
	s.Debug("dropped", nil)
	s.Info("dropped", nil)
	s.Warn("kept", nil)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["message"] != "kept" {
		t.Errorf("expected only the warn line, got %v", lines)
	}
}

func TestFromLogger(t *testing.T) {
	var buf bytes.Buffer
	s := FromLogger("audit", zerolog.New(&buf))
	s.Info("hello", nil)
	if s.Stream() != "audit" {
		t.Errorf("expected stream audit, got %q", s.Stream())
	}
	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["stream"] != "audit" {
		t.Errorf("unexpected lines %v", lines)
	}
}

func TestNop(t *testing.T) {
	Nop().Error("ignored", Fields{"k": "v"})
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

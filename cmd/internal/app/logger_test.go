package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_Formats(t *testing.T) {
	t.Parallel()

	var jsonOut bytes.Buffer
	NewLogger("debug", "json", &jsonOut).Debug("chat.page.loaded", "conversation_id", 42)
	if !strings.HasPrefix(jsonOut.String(), "{") || !strings.Contains(jsonOut.String(), `"conversation_id":42`) {
		t.Fatalf("json output=%q", jsonOut.String())
	}

	var prettyOut bytes.Buffer
	NewLogger("info", "pretty", &prettyOut).Info("realtime.connect.ok", "session_id", "s1")
	got := prettyOut.String()
	if !strings.Contains(got, "msg=realtime.connect.ok") || !strings.Contains(got, "session_id=s1") {
		t.Fatalf("pretty output=%q", got)
	}
	if strings.Contains(got, "\x1b[") {
		t.Fatalf("pretty output to a buffer must not be colored: %q", got)
	}
}

func TestNewLogger_LevelFilters(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	log := NewLogger("warn", "json", &out)
	log.Info("dropped")
	log.Warn("kept")

	if strings.Contains(out.String(), "dropped") || !strings.Contains(out.String(), "kept") {
		t.Fatalf("output=%q", out.String())
	}
}

package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  LogLevel
	}{
		{name: "debug lower", input: "debug", want: LevelDebug},
		{name: "info upper", input: "INFO", want: LevelInfo},
		{name: "warn mixed", input: "WaRn", want: LevelWarn},
		{name: "error", input: "error", want: LevelError},
		{name: "fatal", input: "fatal", want: LevelFatal},
		{name: "trim spaces", input: "  debug  ", want: LevelDebug},
		{name: "unknown fallback", input: "verbose", want: LevelInfo},
		{name: "empty fallback", input: "", want: LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Fatalf("ParseLevel(%q)=%v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLogger_SuppressesBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, LevelWarn)

	l.Info("queued %s", "job-1")
	if buf.Len() != 0 {
		t.Fatalf("info line emitted at warn level: %q", buf.String())
	}

	l.Warn("stuck %s", "job-1")
	if !strings.Contains(buf.String(), "stuck job-1") {
		t.Fatalf("warn line missing: %q", buf.String())
	}
	if l.Level() != LevelWarn {
		t.Fatalf("Level()=%v, want %v", l.Level(), LevelWarn)
	}
}

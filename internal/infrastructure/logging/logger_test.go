package logging

import (
	"log/slog"
	"testing"

	"github.com/evbridge/tesla-ble-bridge/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewDoesNotPanic(t *testing.T) {
	for _, format := range []string{"json", "text", ""} {
		l := New(config.LoggingConfig{Level: "debug", Format: format, Output: "stderr"}, "test")
		if l == nil {
			t.Fatalf("New returned nil for format %q", format)
		}
		l.Debug("probe", "format", format)
	}
}

func TestWithAddsAttributes(t *testing.T) {
	l := Default()
	child := l.With("vin", "TEST123")
	if child == nil || child.Logger == nil {
		t.Fatal("With returned nil logger")
	}
	child.Info("probe")
}

package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo}, // Defaults to info
		{"", slog.LevelInfo},        // Defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := parseLevel(tt.level); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.level, got, tt.expected)
			}
			log := New(tt.level, "test")
			if log == nil {
				t.Fatal("expected non-nil logger")
			}
			if !log.Enabled(context.Background(), tt.expected) {
				t.Errorf("expected level %v to be enabled", tt.expected)
			}
		})
	}
}

func TestNewWithWriterTagsService(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", "server")
	log.Debug("hidden")
	log.Info("visible", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("expected debug record to be filtered at info level")
	}
	if !strings.Contains(out, `"service":"server"`) || !strings.Contains(out, `"k":"v"`) {
		t.Errorf("unexpected log output: %s", out)
	}
}

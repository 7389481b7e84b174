package logging

import (
	"context"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level, format string
		want          zapcore.Level
	}{
		{"debug", "json", zapcore.DebugLevel},
		{"WARN", "console", zapcore.WarnLevel},
		{"nonsense", "json", zapcore.InfoLevel},
		{"", "", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		log, err := New(tt.level, tt.format)
		if err != nil {
			t.Fatalf("New(%q, %q): %v", tt.level, tt.format, err)
		}
		if !log.Core().Enabled(tt.want) {
			t.Errorf("New(%q): level %s should be enabled", tt.level, tt.want)
		}
		if tt.want > zapcore.DebugLevel && log.Core().Enabled(tt.want-1) {
			t.Errorf("New(%q): level %s should be disabled", tt.level, tt.want-1)
		}
	}
}

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(false, "test")
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracing_Enabled(t *testing.T) {
	shutdown, err := InitTracing(true, "test")
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

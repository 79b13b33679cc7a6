package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{name: "debug to buffer", config: &Config{Level: LevelDebug, Output: &bytes.Buffer{}}},
		{name: "nil output falls back", config: &Config{Level: LevelInfo}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("debug message should be filtered at warn level")
	}
	if strings.Contains(output, "info message") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(output, "warn message") {
		t.Errorf("warn message missing from output: %s", output)
	}
	if !strings.Contains(output, "error message") {
		t.Errorf("error message missing from output: %s", output)
	}
}

func TestKeyValueArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("opened device", "dev", "/dev/binder", "version", 9)

	output := buf.String()
	if !strings.Contains(output, "dev=/dev/binder") {
		t.Errorf("Expected dev=/dev/binder in output, got: %s", output)
	}
	if !strings.Contains(output, "version=9") {
		t.Errorf("Expected version=9 in output, got: %s", output)
	}
}

func TestEnabled(t *testing.T) {
	logger := NewLogger(&Config{Level: LevelInfo, Output: &bytes.Buffer{}})

	if logger.Enabled(LevelDebug) {
		t.Error("debug should be disabled at info level")
	}
	if !logger.Enabled(LevelInfo) {
		t.Error("info should be enabled at info level")
	}
	if !logger.Enabled(LevelError) {
		t.Error("error should be enabled at info level")
	}
}

func TestDump(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Dump('<', []byte{0xde, 0xad, 0xbe, 0xef})

	output := buf.String()
	if !strings.Contains(output, "de ad be ef") {
		t.Errorf("Expected hex bytes in output, got: %s", output)
	}
	if !strings.Contains(output, "< ") {
		t.Errorf("Expected direction mark in output, got: %s", output)
	}
}

func TestDumpFilteredAboveDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelInfo, Output: &buf})

	logger.Dump('>', []byte{1, 2, 3})

	if buf.Len() != 0 {
		t.Errorf("Dump should emit nothing above debug level, got: %s", buf.String())
	}
}

func TestDumpMultiLine(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Dump('<', make([]byte, 40))

	lines := strings.Count(buf.String(), "\n")
	if lines != 3 {
		t.Errorf("40 bytes should dump as 3 lines, got %d", lines)
	}
}

func TestDefaultLogger(t *testing.T) {
	logger := Default()
	if logger == nil {
		t.Fatal("Default() returned nil")
	}
	if logger != Default() {
		t.Error("Default() should return the same instance")
	}

	replacement := NewLogger(nil)
	SetDefault(replacement)
	if Default() != replacement {
		t.Error("SetDefault() did not take effect")
	}
}

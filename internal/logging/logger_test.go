package logging

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestComponentLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(nil)

	logger := NewComponentLogger(ComponentLoggerConfig{
		ComponentName: "TEST",
		Color:         color.FgRed,
		EnabledLevels: []LogLevel{INFO, ERROR},
	})

	logger.Info("test info message")
	output := buf.String()
	if !strings.Contains(output, "[TEST]") {
		t.Errorf("expected component name in output, got: %s", output)
	}
	if !strings.Contains(output, "test info message") {
		t.Errorf("expected message in output, got: %s", output)
	}

	buf.Reset()
	logger.Debug("test debug message")
	if buf.Len() > 0 {
		t.Errorf("expected no output for disabled level, got: %s", buf.String())
	}

	logger.Error("test error message")
	output = buf.String()
	if !strings.Contains(output, "test error message") {
		t.Errorf("expected error message in output, got: %s", output)
	}
}

func TestComponentLogger_LevelMethods(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(nil)

	logger := NewComponentLogger(ComponentLoggerConfig{
		ComponentName: "TEST",
		EnabledLevels: []LogLevel{DEBUG, INFO, WARN, ERROR},
	})

	tests := []struct {
		method   func(string, ...interface{})
		message  string
		expected string
	}{
		{logger.Debug, "debug message", "debug message"},
		{logger.Info, "info message", "info message"},
		{logger.Warn, "warn message", "warn message"},
		{logger.Error, "error message", "error message"},
	}

	for _, test := range tests {
		buf.Reset()
		test.method(test.message)
		output := buf.String()
		if !strings.Contains(output, test.expected) {
			t.Errorf("expected %q in output, got: %s", test.expected, output)
		}
	}
}

func TestLoggerFactory_GetLogger(t *testing.T) {
	factory := &LoggerFactory{}

	tests := []struct {
		component string
		expected  *ComponentLogger
	}{
		{"STORE", StoreLogger},
		{"CLAIMER", ClaimerLogger},
		{"WORKER", WorkerLogger},
		{"ORCHESTRATOR", OrchestratorLogger},
		{"EVOLUTION", EvolutionLogger},
		{"JANITOR", JanitorLogger},
	}

	for _, test := range tests {
		logger := factory.GetLogger(test.component)
		if logger != test.expected {
			t.Errorf("expected %v for component %s, got %v", test.expected, test.component, logger)
		}
	}

	unknownLogger := factory.GetLogger("UNKNOWN")
	if unknownLogger == nil {
		t.Error("expected logger for unknown component, got nil")
	}
}

func TestConvenienceFunctions(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(nil)

	LogInfo("TEST", "test message")
	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("expected message in convenience function output, got: %s", output)
	}

	buf.Reset()
	LogError("TEST", "error message")
	output = buf.String()
	if !strings.Contains(output, "error message") {
		t.Errorf("expected error message in convenience function output, got: %s", output)
	}
}

func TestComponentLoggerConfig_DefaultLevels(t *testing.T) {
	logger := NewComponentLogger(ComponentLoggerConfig{ComponentName: "TEST"})

	expectedLevels := []LogLevel{DEBUG, INFO, WARN, ERROR}
	for _, level := range expectedLevels {
		if !logger.enabled[level] {
			t.Errorf("expected level %s to be enabled by default", level)
		}
	}
}

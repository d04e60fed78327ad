// Package logging provides a component-scoped leveled logger shared by every
// HELIX actor (state store, claimer, worker, orchestrator, evolution
// coordinator, janitor). Each component gets its own colorized, independently
// level-filtered logger instead of a single package-level global.
package logging

import (
	"fmt"
	"log"

	"github.com/fatih/color"
)

// LogLevel is a logging severity.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the interface consumed by components that should not depend on
// the concrete ComponentLogger (e.g. for test doubles).
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// ComponentLoggerConfig configures a ComponentLogger.
type ComponentLoggerConfig struct {
	ComponentName string
	Color         color.Attribute
	// EnabledLevels restricts which levels are emitted. Empty means all levels.
	EnabledLevels []LogLevel
}

// ComponentLogger is a leveled logger prefixed with a colorized component tag.
type ComponentLogger struct {
	name    string
	color   *color.Color
	enabled map[LogLevel]bool
}

var _ Logger = (*ComponentLogger)(nil)

// NewComponentLogger builds a ComponentLogger from the given config. If
// EnabledLevels is empty, all levels are enabled.
func NewComponentLogger(cfg ComponentLoggerConfig) *ComponentLogger {
	enabled := make(map[LogLevel]bool, 4)
	if len(cfg.EnabledLevels) == 0 {
		enabled[DEBUG] = true
		enabled[INFO] = true
		enabled[WARN] = true
		enabled[ERROR] = true
	} else {
		for _, lvl := range cfg.EnabledLevels {
			enabled[lvl] = true
		}
	}

	c := cfg.Color
	if c == 0 {
		c = color.FgWhite
	}

	return &ComponentLogger{
		name:    cfg.ComponentName,
		color:   color.New(c),
		enabled: enabled,
	}
}

func (l *ComponentLogger) log(level LogLevel, format string, args ...interface{}) {
	if !l.enabled[level] {
		return
	}
	prefix := l.color.Sprintf("[%s]", l.name)
	msg := fmt.Sprintf(format, args...)
	log.Printf("%s %s: %s", prefix, level, msg)
}

func (l *ComponentLogger) Debug(format string, args ...interface{}) { l.log(DEBUG, format, args...) }
func (l *ComponentLogger) Info(format string, args ...interface{})  { l.log(INFO, format, args...) }
func (l *ComponentLogger) Warn(format string, args ...interface{})  { l.log(WARN, format, args...) }
func (l *ComponentLogger) Error(format string, args ...interface{}) { l.log(ERROR, format, args...) }

// Well-known per-component loggers, resolved by LoggerFactory.
var (
	StoreLogger        = NewComponentLogger(ComponentLoggerConfig{ComponentName: "STORE", Color: color.FgCyan})
	ClaimerLogger       = NewComponentLogger(ComponentLoggerConfig{ComponentName: "CLAIMER", Color: color.FgBlue})
	WorkerLogger        = NewComponentLogger(ComponentLoggerConfig{ComponentName: "WORKER", Color: color.FgGreen})
	OrchestratorLogger  = NewComponentLogger(ComponentLoggerConfig{ComponentName: "ORCHESTRATOR", Color: color.FgMagenta})
	EvolutionLogger     = NewComponentLogger(ComponentLoggerConfig{ComponentName: "EVOLUTION", Color: color.FgYellow})
	JanitorLogger       = NewComponentLogger(ComponentLoggerConfig{ComponentName: "JANITOR", Color: color.FgHiBlack})
	CircuitBreakerLogger = NewComponentLogger(ComponentLoggerConfig{ComponentName: "CIRCUIT", Color: color.FgRed})
	DefaultLogger       = NewComponentLogger(ComponentLoggerConfig{ComponentName: "HELIX", Color: color.FgWhite})
)

// LoggerFactory resolves well-known component names to their logger.
type LoggerFactory struct{}

// GetLogger returns the logger registered for component, or a fresh
// default-configured logger for unrecognized names.
func (f *LoggerFactory) GetLogger(component string) *ComponentLogger {
	switch component {
	case "STORE":
		return StoreLogger
	case "CLAIMER":
		return ClaimerLogger
	case "WORKER":
		return WorkerLogger
	case "ORCHESTRATOR":
		return OrchestratorLogger
	case "EVOLUTION":
		return EvolutionLogger
	case "JANITOR":
		return JanitorLogger
	case "CIRCUIT":
		return CircuitBreakerLogger
	default:
		return NewComponentLogger(ComponentLoggerConfig{ComponentName: component})
	}
}

// LogInfo is a convenience function for ad-hoc, unscoped info logging.
func LogInfo(component, format string, args ...interface{}) {
	(&LoggerFactory{}).GetLogger(component).Info(format, args...)
}

// LogError is a convenience function for ad-hoc, unscoped error logging.
func LogError(component, format string, args ...interface{}) {
	(&LoggerFactory{}).GetLogger(component).Error(format, args...)
}

package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogFormat selects the wire format log entries are written in.
type LogFormat int

const (
	FormatText LogFormat = iota
	FormatJSON
)

// LogEntry is one emitted record.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// StructuredLoggerConfig configures a StructuredLogger.
type StructuredLoggerConfig struct {
	Level    LogLevel
	Output   io.Writer
	Format   LogFormat
	Rotation *RotationConfig // non-nil routes output through a LogRotator
}

// DefaultStructuredLoggerConfig returns the stderr text logger most
// components start from.
func DefaultStructuredLoggerConfig() *StructuredLoggerConfig {
	return &StructuredLoggerConfig{
		Level:  INFO,
		Output: os.Stderr,
		Format: FormatText,
	}
}

// StructuredLogger is a leveled logger with per-component level
// overrides. WithComponent/WithField derive child loggers sharing the
// same output and level state.
type StructuredLogger struct {
	shared *loggerShared

	component string
	fields    map[string]interface{}
}

// loggerShared is the state all derived loggers point back to, so a
// SetLevel or SetComponentLevel is visible to every child.
type loggerShared struct {
	mu              sync.RWMutex
	level           LogLevel
	componentLevels map[string]LogLevel
	output          io.Writer
	format          LogFormat
	rotator         *LogRotator
}

// NewStructuredLogger constructs a logger from config (nil takes the
// defaults).
func NewStructuredLogger(config *StructuredLoggerConfig) (*StructuredLogger, error) {
	if config == nil {
		config = DefaultStructuredLoggerConfig()
	}
	shared := &loggerShared{
		level:           config.Level,
		componentLevels: make(map[string]LogLevel),
		output:          config.Output,
		format:          config.Format,
	}
	if shared.output == nil {
		shared.output = os.Stderr
	}
	if config.Rotation != nil {
		rotator, err := NewLogRotator(config.Rotation)
		if err != nil {
			return nil, err
		}
		shared.rotator = rotator
		shared.output = rotator
	}
	return &StructuredLogger{shared: shared}, nil
}

// WithComponent derives a logger tagged with component; component-level
// overrides set via SetComponentLevel apply to it.
func (sl *StructuredLogger) WithComponent(component string) *StructuredLogger {
	child := *sl
	child.component = component
	return &child
}

// WithField derives a logger whose every entry carries key=value.
func (sl *StructuredLogger) WithField(key string, value interface{}) *StructuredLogger {
	child := *sl
	child.fields = make(map[string]interface{}, len(sl.fields)+1)
	for k, v := range sl.fields {
		child.fields[k] = v
	}
	child.fields[key] = value
	return &child
}

// SetLevel changes the global minimum level.
func (sl *StructuredLogger) SetLevel(level LogLevel) {
	sl.shared.mu.Lock()
	sl.shared.level = level
	sl.shared.mu.Unlock()
}

// SetComponentLevel overrides the minimum level for one component.
func (sl *StructuredLogger) SetComponentLevel(component string, level LogLevel) {
	sl.shared.mu.Lock()
	sl.shared.componentLevels[component] = level
	sl.shared.mu.Unlock()
}

func (sl *StructuredLogger) enabled(level LogLevel) bool {
	sl.shared.mu.RLock()
	defer sl.shared.mu.RUnlock()
	min := sl.shared.level
	if sl.component != "" {
		if override, ok := sl.shared.componentLevels[sl.component]; ok {
			min = override
		}
	}
	return level >= min
}

func (sl *StructuredLogger) emit(level LogLevel, message string) {
	if !sl.enabled(level) {
		return
	}
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Component: sl.component,
		Message:   message,
		Fields:    sl.fields,
	}

	var line string
	if sl.shared.format == FormatJSON {
		data, err := json.Marshal(entry)
		if err != nil {
			line = formatText(entry)
		} else {
			line = string(data) + "\n"
		}
	} else {
		line = formatText(entry)
	}

	sl.shared.mu.Lock()
	_, _ = sl.shared.output.Write([]byte(line))
	sl.shared.mu.Unlock()
}

func formatText(entry LogEntry) string {
	var b strings.Builder
	b.WriteString(entry.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"))
	b.WriteString(" [")
	b.WriteString(entry.Level)
	b.WriteString("]")
	if entry.Component != "" {
		b.WriteString(" ")
		b.WriteString(entry.Component)
		b.WriteString(":")
	}
	b.WriteString(" ")
	b.WriteString(entry.Message)
	if len(entry.Fields) > 0 {
		keys := make([]string, 0, len(entry.Fields))
		for k := range entry.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, entry.Fields[k])
		}
		b.WriteString("}")
	}
	b.WriteString("\n")
	return b.String()
}

func (sl *StructuredLogger) Tracef(format string, args ...interface{}) {
	sl.emit(TRACE, fmt.Sprintf(format, args...))
}

func (sl *StructuredLogger) Debugf(format string, args ...interface{}) {
	sl.emit(DEBUG, fmt.Sprintf(format, args...))
}

func (sl *StructuredLogger) Infof(format string, args ...interface{}) {
	sl.emit(INFO, fmt.Sprintf(format, args...))
}

func (sl *StructuredLogger) Warnf(format string, args ...interface{}) {
	sl.emit(WARN, fmt.Sprintf(format, args...))
}

func (sl *StructuredLogger) Errorf(format string, args ...interface{}) {
	sl.emit(ERROR, fmt.Sprintf(format, args...))
}

// Close releases the rotator's file handle when rotation is configured.
func (sl *StructuredLogger) Close() error {
	if sl.shared.rotator != nil {
		return sl.shared.rotator.Close()
	}
	return nil
}

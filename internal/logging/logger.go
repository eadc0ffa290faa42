package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
)

// Level represents the logging level.
type Level int

const (
	// LevelDebug is the most verbose level.
	LevelDebug Level = iota
	// LevelInfo is for informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel parses a string into a Level. Unknown names map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format represents the log output format.
type Format int

const (
	// FormatText outputs logs in human-readable text format.
	FormatText Format = iota
	// FormatJSON outputs logs in JSON format.
	FormatJSON
)

// ParseFormat parses a string into a Format.
func ParseFormat(s string) Format {
	if strings.ToLower(s) == "json" {
		return FormatJSON
	}
	return FormatText
}

// Logger is the interface for structured logging.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, keysAndValues ...interface{})
	// Info logs an info message with optional key-value pairs.
	Info(msg string, keysAndValues ...interface{})
	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, keysAndValues ...interface{})
	// Error logs an error message with optional key-value pairs.
	Error(msg string, keysAndValues ...interface{})
	// WithComponent returns a new logger tagged with the engine component
	// that produces its entries.
	WithComponent(component string) Logger
	// WithFields returns a new logger with the given fields.
	WithFields(keysAndValues ...interface{}) Logger
}

// logger is the default implementation of Logger.
type logger struct {
	level     Level
	format    Format
	out       *syncWriter
	fields    map[string]interface{}
	component string
}

// syncWriter serializes writes of loggers sharing one output.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) writeLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, line)
}

// Config holds the logger configuration.
type Config struct {
	Level  string
	Format string
	Output string
}

// New creates a new Logger with the given configuration. Output is "stdout",
// "stderr" or a file path opened for appending; a file that cannot be
// opened falls back to stderr.
func New(cfg Config) Logger {
	var output io.Writer
	switch cfg.Output {
	case "", "stderr":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			output = os.Stderr
		} else {
			output = f
		}
	}
	return NewWriter(output, ParseLevel(cfg.Level), ParseFormat(cfg.Format))
}

// NewWriter creates a Logger that writes to w.
func NewWriter(w io.Writer, level Level, format Format) Logger {
	return &logger{
		level:  level,
		format: format,
		out:    &syncWriter{w: w},
		fields: make(map[string]interface{}),
	}
}

// NewDefault creates a new Logger with default settings.
func NewDefault() Logger {
	return NewWriter(os.Stderr, LevelInfo, FormatText)
}

// NewNop creates a no-op logger that discards all output.
func NewNop() Logger {
	return &nopLogger{}
}

// Debug logs a debug message.
func (l *logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(LevelDebug, msg, keysAndValues...)
}

// Info logs an info message.
func (l *logger) Info(msg string, keysAndValues ...interface{}) {
	l.log(LevelInfo, msg, keysAndValues...)
}

// Warn logs a warning message.
func (l *logger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(LevelWarn, msg, keysAndValues...)
}

// Error logs an error message.
func (l *logger) Error(msg string, keysAndValues ...interface{}) {
	l.log(LevelError, msg, keysAndValues...)
}

// WithComponent returns a new logger tagged with component.
func (l *logger) WithComponent(component string) Logger {
	newLogger := l.clone()
	newLogger.component = component
	return newLogger
}

// WithFields returns a new logger with the given fields.
func (l *logger) WithFields(keysAndValues ...interface{}) Logger {
	newLogger := l.clone()
	addPairs(newLogger.fields, keysAndValues)
	return newLogger
}

func (l *logger) clone() *logger {
	newFields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	return &logger{
		level:     l.level,
		format:    l.format,
		out:       l.out,
		fields:    newFields,
		component: l.component,
	}
}

// addPairs copies key-value pairs into dst. Errors are stored as their
// message so they survive JSON encoding.
func addPairs(dst map[string]interface{}, keysAndValues []interface{}) {
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		v := keysAndValues[i+1]
		if err, isErr := v.(error); isErr && err != nil {
			v = err.Error()
		}
		dst[key] = v
	}
}

// log writes a log entry.
func (l *logger) log(level Level, msg string, keysAndValues ...interface{}) {
	if level < l.level {
		return
	}

	entry := make(map[string]interface{}, len(l.fields)+len(keysAndValues)/2+4)
	for k, v := range l.fields {
		entry[k] = v
	}
	addPairs(entry, keysAndValues)
	entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = msg
	if l.component != "" {
		entry["component"] = l.component
	}

	var output string
	if l.format == FormatJSON {
		data, err := json.Marshal(entry)
		if err != nil {
			output = fmt.Sprintf(`{"ts":%q,"level":"error","msg":"failed to marshal log entry"}`, entry["ts"])
		} else {
			output = string(data)
		}
	} else {
		output = formatText(entry)
	}

	l.out.writeLine(output)
}

// formatText formats a log entry as text with the remaining fields in key
// order.
func formatText(entry map[string]interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", entry["ts"], entry["level"], entry["msg"])

	if c, ok := entry["component"]; ok {
		fmt.Fprintf(&b, " component=%v", c)
	}

	keys := make([]string, 0, len(entry))
	for k := range entry {
		switch k {
		case "ts", "level", "msg", "component":
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry[k])
	}
	return b.String()
}

// nopLogger is a no-op logger that discards all output.
type nopLogger struct{}

func (n *nopLogger) Debug(_ string, _ ...interface{})   {}
func (n *nopLogger) Info(_ string, _ ...interface{})    {}
func (n *nopLogger) Warn(_ string, _ ...interface{})    {}
func (n *nopLogger) Error(_ string, _ ...interface{})   {}
func (n *nopLogger) WithComponent(_ string) Logger      { return n }
func (n *nopLogger) WithFields(_ ...interface{}) Logger { return n }

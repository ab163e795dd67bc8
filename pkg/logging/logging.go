// Package logging implements cuba's structured diagnostic logger, adapted
// from the teacher's pkg/utils.Logger/StructuredLogger: component/profile
// fields instead of free-form context, text or JSON output, and an optional
// mirror into a message.Sink so a CLI can see the same log lines it would
// read from a log file.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cuba/cuba/pkg/message"
)

// Level is the logger's severity scale, mirrored by message.Level.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

// String returns the level's name.
func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name, defaulting to Info on an empty string.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "INFO":
		return Info, nil
	case "DEBUG":
		return Debug, nil
	case "WARN", "WARNING":
		return Warn, nil
	case "ERROR":
		return Error, nil
	default:
		return Info, fmt.Errorf("invalid log level: %s", s)
	}
}

func (l Level) messageLevel() message.Level {
	switch l {
	case Debug:
		return message.LevelDebug
	case Warn:
		return message.LevelWarn
	case Error:
		return message.LevelError
	default:
		return message.LevelInfo
	}
}

// Format selects how log entries are rendered to Output.
type Format int

const (
	Text Format = iota
	JSON
)

// entry is a single structured log line.
type entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

// Config configures a Logger, normally built from config.LoggingConfig.
type Config struct {
	Level         Level
	Output        io.Writer
	Format        Format
	IncludeCaller bool
	// Sink, if set, receives every logged entry as a message.Log so a
	// single log call reaches both the log file/stream and the UI's
	// progress consumer.
	Sink message.Sink
}

// Logger is a structured, leveled logger carrying a set of context fields
// (profile, operation, component) that are attached to every entry it
// emits.
type Logger struct {
	mu     sync.Mutex
	level  Level
	output io.Writer
	format Format
	caller bool
	sink   message.Sink
	fields map[string]interface{}
}

// New builds a Logger from cfg. A nil Output defaults to os.Stderr.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	return &Logger{
		level:  cfg.Level,
		output: out,
		format: cfg.Format,
		caller: cfg.IncludeCaller,
		sink:   cfg.Sink,
		fields: map[string]interface{}{},
	}
}

func (l *Logger) clone() *Logger {
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &Logger{
		level:  l.level,
		output: l.output,
		format: l.format,
		caller: l.caller,
		sink:   l.sink,
		fields: fields,
	}
}

// WithField returns a copy of l carrying an additional context field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	c := l.clone()
	c.fields[key] = value
	return c
}

// WithProfile returns a copy of l tagged with the given profile name.
func (l *Logger) WithProfile(profile string) *Logger {
	return l.WithField("profile", profile)
}

// WithOperation returns a copy of l tagged with the given operation name
// ("backup", "restore", "verify", "clean").
func (l *Logger) WithOperation(operation string) *Logger {
	return l.WithField("operation", operation)
}

// WithComponent returns a copy of l tagged with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithField("component", component)
}

func (l *Logger) enabled(level Level) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.level
}

func (l *Logger) log(level Level, msg string) {
	if !l.enabled(level) {
		return
	}

	e := entry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   msg,
	}

	l.mu.Lock()
	if len(l.fields) > 0 {
		e.Fields = make(map[string]interface{}, len(l.fields))
		for k, v := range l.fields {
			e.Fields[k] = v
		}
	}
	caller := l.caller
	l.mu.Unlock()

	if caller {
		if _, file, line, ok := runtime.Caller(2); ok {
			parts := strings.Split(file, "/")
			e.Caller = fmt.Sprintf("%s:%d", parts[len(parts)-1], line)
		}
	}

	l.write(e)

	if l.sink != nil {
		l.sink.Send(message.LogMessage(message.Log{
			Profile: fmt.Sprintf("%v", e.Fields["profile"]),
			Level:   level.messageLevel(),
			Text:    msg,
		}))
	}
}

func (l *Logger) write(e entry) {
	var out string
	if l.format == JSON {
		b, err := json.Marshal(e)
		if err != nil {
			out = formatText(e)
		} else {
			out = string(b) + "\n"
		}
	} else {
		out = formatText(e)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.output.Write([]byte(out))
}

func formatText(e entry) string {
	var sb strings.Builder
	sb.WriteString(e.Timestamp.Format("2006-01-02 15:04:05.000"))
	sb.WriteString(" [")
	sb.WriteString(e.Level)
	sb.WriteString("] ")
	if e.Caller != "" {
		sb.WriteString("[")
		sb.WriteString(e.Caller)
		sb.WriteString("] ")
	}
	sb.WriteString(e.Message)
	if len(e.Fields) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range e.Fields {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&sb, "%s=%v", k, v)
		}
		sb.WriteString("}")
	}
	sb.WriteString("\n")
	return sb.String()
}

// Debug logs a debug-level message.
func (l *Logger) Debug(msg string) { l.log(Debug, msg) }

// Info logs an info-level message.
func (l *Logger) Info(msg string) { l.log(Info, msg) }

// Warn logs a warn-level message.
func (l *Logger) Warn(msg string) { l.log(Warn, msg) }

// Error logs an error-level message.
func (l *Logger) Error(msg string) { l.log(Error, msg) }

// Debugf logs a formatted debug-level message.
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(Debug, fmt.Sprintf(format, args...)) }

// Infof logs a formatted info-level message.
func (l *Logger) Infof(format string, args ...interface{}) { l.log(Info, fmt.Sprintf(format, args...)) }

// Warnf logs a formatted warn-level message.
func (l *Logger) Warnf(format string, args ...interface{}) { l.log(Warn, fmt.Sprintf(format, args...)) }

// Errorf logs a formatted error-level message.
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(Error, fmt.Sprintf(format, args...)) }

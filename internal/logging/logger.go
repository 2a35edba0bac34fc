// Package logging provides the structured logger used by the reclaim
// processes. Every line can carry the process component, the worker
// identity (producer or consumer id) and the candidate key being handled.
package logging

import (
	"encoding/json"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	// LevelDebug is for detailed debugging information.
	LevelDebug Level = iota
	// LevelInfo is for general information messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

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

// ParseLevel converts a string to a Level. Unknown values map to info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format represents the output format for log messages.
type Format int

const (
	// FormatJSON outputs logs as JSON objects.
	FormatJSON Format = iota
	// FormatText outputs logs as human-readable text.
	FormatText
)

// ParseFormat converts a string to a Format. Unknown values map to JSON.
func ParseFormat(s string) Format {
	if s == "text" {
		return FormatText
	}
	return FormatJSON
}

// EventDataCorruption is the "event" field value attached to every line
// reporting an undecodable payload.
const EventDataCorruption = "data_corruption"

// Entry is a single rendered log line.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	Worker    string         `json:"worker,omitempty"`
	Candidate string         `json:"candidate,omitempty"`
	File      string         `json:"file,omitempty"`
	Line      int            `json:"line,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// scope is the immutable identity a Logger stamps on each line.
type scope struct {
	component string
	worker    string
	candidate string
	fields    map[string]any
}

// sink is shared by a Logger and every child derived from it.
type sink struct {
	mu         sync.Mutex
	out        io.Writer
	level      Level
	format     Format
	addCaller  bool
	callerSkip int
}

// Logger writes leveled, structured lines. Child loggers created with With,
// WithComponent, WithWorker or WithCandidate share the parent's output and
// level.
type Logger struct {
	sink  *sink
	scope scope
}

// Config holds configuration for a Logger.
type Config struct {
	Level      Level
	Format     Format
	Output     io.Writer
	AddCaller  bool
	CallerSkip int
}

// New creates a new Logger with the given configuration.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	return &Logger{
		sink: &sink{
			out:        out,
			level:      cfg.Level,
			format:     cfg.Format,
			addCaller:  cfg.AddCaller,
			callerSkip: cfg.CallerSkip,
		},
	}
}

// DefaultLogger returns an info-level JSON logger writing to stderr.
func DefaultLogger() *Logger {
	return New(Config{Level: LevelInfo, Format: FormatJSON, Output: os.Stderr})
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() *Logger {
	return New(Config{Level: LevelError + 1, Output: io.Discard})
}

// SetLevel updates the minimum logging level.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// GetLevel returns the current logging level.
func (l *Logger) GetLevel() Level {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.level
}

// Enabled reports whether lines at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.GetLevel()
}

func (l *Logger) derive(fn func(s *scope)) *Logger {
	s := l.scope
	if len(s.fields) > 0 {
		cp := make(map[string]any, len(s.fields))
		for k, v := range s.fields {
			cp[k] = v
		}
		s.fields = cp
	}
	fn(&s)
	return &Logger{sink: l.sink, scope: s}
}

// With returns a child logger with the given fields added to every line.
func (l *Logger) With(fields map[string]any) *Logger {
	return l.derive(func(s *scope) {
		if s.fields == nil {
			s.fields = make(map[string]any, len(fields))
		}
		for k, v := range fields {
			s.fields[k] = v
		}
	})
}

// WithComponent returns a child logger tagged with a process component,
// e.g. "scheduler" or "consumer".
func (l *Logger) WithComponent(name string) *Logger {
	return l.derive(func(s *scope) { s.component = name })
}

// WithWorker returns a child logger tagged with a producer or consumer id.
func (l *Logger) WithWorker(id string) *Logger {
	return l.derive(func(s *scope) { s.worker = id })
}

// WithCandidate returns a child logger tagged with a candidate key.
func (l *Logger) WithCandidate(key string) *Logger {
	return l.derive(func(s *scope) { s.candidate = key })
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) { l.log(LevelDebug, msg, nil) }

// Debugf logs a debug message with fields.
func (l *Logger) Debugf(msg string, fields map[string]any) { l.log(LevelDebug, msg, fields) }

// Info logs an info message.
func (l *Logger) Info(msg string) { l.log(LevelInfo, msg, nil) }

// Infof logs an info message with fields.
func (l *Logger) Infof(msg string, fields map[string]any) { l.log(LevelInfo, msg, fields) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string) { l.log(LevelWarn, msg, nil) }

// Warnf logs a warning message with fields.
func (l *Logger) Warnf(msg string, fields map[string]any) { l.log(LevelWarn, msg, fields) }

// Error logs an error message.
func (l *Logger) Error(msg string) { l.log(LevelError, msg, nil) }

// Errorf logs an error message with fields.
func (l *Logger) Errorf(msg string, fields map[string]any) { l.log(LevelError, msg, fields) }

// Corruption logs an undecodable payload at error level, tagged with
// event=data_corruption.
func (l *Logger) Corruption(msg string, err error, fields map[string]any) {
	merged := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		merged[k] = v
	}
	merged["event"] = EventDataCorruption
	if err != nil {
		merged["error"] = err.Error()
	}
	l.log(LevelError, msg, merged)
}

func (l *Logger) log(level Level, msg string, extra map[string]any) {
	l.sink.mu.Lock()
	minLevel := l.sink.level
	format := l.sink.format
	addCaller := l.sink.addCaller
	callerSkip := l.sink.callerSkip
	l.sink.mu.Unlock()

	if level < minLevel {
		return
	}

	entry := Entry{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Message:   msg,
		Component: l.scope.component,
		Worker:    l.scope.worker,
		Candidate: l.scope.candidate,
	}

	if addCaller {
		if _, file, line, ok := runtime.Caller(2 + callerSkip); ok {
			entry.File = file
			entry.Line = line
		}
	}

	if n := len(l.scope.fields) + len(extra); n > 0 {
		entry.Fields = make(map[string]any, n)
		for k, v := range l.scope.fields {
			entry.Fields[k] = v
		}
		for k, v := range extra {
			entry.Fields[k] = v
		}
	}

	var data []byte
	if format == FormatText {
		data = formatText(entry)
	} else {
		data, _ = json.Marshal(entry)
		data = append(data, '\n')
	}

	l.sink.mu.Lock()
	_, _ = l.sink.out.Write(data)
	l.sink.mu.Unlock()
}

func formatText(e Entry) []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, e.Timestamp.Format(time.RFC3339)...)
	buf = append(buf, " ["...)
	buf = append(buf, e.Level...)
	buf = append(buf, "] "...)
	buf = append(buf, e.Message...)

	if e.Component != "" {
		buf = append(buf, " component="...)
		buf = append(buf, e.Component...)
	}
	if e.Worker != "" {
		buf = append(buf, " worker="...)
		buf = append(buf, e.Worker...)
	}
	if e.Candidate != "" {
		buf = append(buf, " candidate="...)
		buf = append(buf, e.Candidate...)
	}
	if e.File != "" {
		buf = append(buf, " file="...)
		buf = append(buf, e.File...)
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, int64(e.Line), 10)
	}

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf = append(buf, ' ')
		buf = append(buf, k...)
		buf = append(buf, '=')
		switch val := e.Fields[k].(type) {
		case string:
			buf = append(buf, val...)
		case error:
			buf = append(buf, val.Error()...)
		default:
			data, _ := json.Marshal(val)
			buf = append(buf, data...)
		}
	}
	return append(buf, '\n')
}

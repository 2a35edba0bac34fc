package logging

import (
	"os"
	"sync/atomic"
)

var global atomic.Pointer[Logger]

func init() {
	global.Store(DefaultLogger())
}

// SetGlobal replaces the logger handed to components constructed without one.
func SetGlobal(l *Logger) {
	if l != nil {
		global.Store(l)
	}
}

// Global returns the process logger.
func Global() *Logger {
	return global.Load()
}

// Configure builds a stderr logger for the given level and format names and
// installs it as the process logger. Debug adds caller info.
func Configure(level, format string) *Logger {
	lvl := ParseLevel(level)
	l := New(Config{
		Level:     lvl,
		Format:    ParseFormat(format),
		Output:    os.Stderr,
		AddCaller: lvl == LevelDebug,
	})
	SetGlobal(l)
	return l
}

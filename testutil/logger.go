// Package testutil provides a fake logger for package tests (the manager
// tests use it), grounded on coreengine/kernel/kernel_test.go's testLogger and
// coreengine/testutil/testutil.go's configurable-fake idiom.
package testutil

import "sync"

// Logger records every call it receives so tests can assert on log
// content, instead of discarding it the way a no-op logger would.
type Logger struct {
	mu    sync.Mutex
	Lines []string
}

// NewLogger returns a ready Logger.
func NewLogger() *Logger { return &Logger{} }

func (l *Logger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Lines = append(l.Lines, level+": "+msg)
}

// Debug implements corectx.Logger.
func (l *Logger) Debug(msg string, _ ...any) { l.record("DEBUG", msg) }

// Info implements corectx.Logger.
func (l *Logger) Info(msg string, _ ...any) { l.record("INFO", msg) }

// Warn implements corectx.Logger.
func (l *Logger) Warn(msg string, _ ...any) { l.record("WARN", msg) }

// Error implements corectx.Logger.
func (l *Logger) Error(msg string, _ ...any) { l.record("ERROR", msg) }

// Count returns how many lines were recorded at level (e.g. "WARN").
func (l *Logger) Count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	prefix := level + ": "
	for _, line := range l.Lines {
		if len(line) >= len(prefix) && line[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// Package synclog keeps a bounded in-memory history of sync diagnostics so
// the UI can show recent activity without tailing the process logs. Every
// entry is also forwarded to the shared zap logger.
package synclog

import (
	"sync"
	"time"

	"github.com/pulseloop/wearsync/pkg/model"
	"go.uber.org/zap"
)

// DefaultMaxEntries bounds the retained history
const DefaultMaxEntries = 1000

var levelRank = map[model.LogLevel]int{
	model.LogDebug: 0,
	model.LogInfo:  1,
	model.LogWarn:  2,
	model.LogError: 3,
}

// Log is an append-only, level-filtered ring buffer of sync log entries
type Log struct {
	mu         sync.RWMutex
	entries    []model.LogEntry
	maxEntries int
	minLevel   model.LogLevel
	clock      func() time.Time
	logger     *zap.Logger
}

// Option customizes a Log
type Option func(*Log)

// WithMaxEntries overrides the retention bound
func WithMaxEntries(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.maxEntries = n
		}
	}
}

// WithClock injects a deterministic clock for tests
func WithClock(clock func() time.Time) Option {
	return func(l *Log) {
		l.clock = clock
	}
}

// New creates a Log that records entries at or above minLevel
func New(minLevel model.LogLevel, logger *zap.Logger, opts ...Option) *Log {
	l := &Log{
		maxEntries: DefaultMaxEntries,
		minLevel:   minLevel,
		clock:      time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetLevel adjusts the minimum recorded level at runtime
func (l *Log) SetLevel(level model.LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// Debug records a debug entry
func (l *Log) Debug(msg string, fields map[string]string) {
	l.append(model.LogDebug, msg, fields)
}

// Info records an informational entry
func (l *Log) Info(msg string, fields map[string]string) {
	l.append(model.LogInfo, msg, fields)
}

// Warn records a warning entry
func (l *Log) Warn(msg string, fields map[string]string) {
	l.append(model.LogWarn, msg, fields)
}

// Error records an error entry
func (l *Log) Error(msg string, fields map[string]string) {
	l.append(model.LogError, msg, fields)
}

func (l *Log) append(level model.LogLevel, msg string, fields map[string]string) {
	l.forward(level, msg, fields)

	l.mu.Lock()
	defer l.mu.Unlock()

	if levelRank[level] < levelRank[l.minLevel] {
		return
	}

	l.entries = append(l.entries, model.LogEntry{
		Timestamp: l.clock(),
		Level:     level,
		Message:   msg,
		Fields:    fields,
	})

	// Trim the oldest entries once the bound is exceeded
	if len(l.entries) > l.maxEntries {
		l.entries = l.entries[len(l.entries)-l.maxEntries:]
	}
}

// forward mirrors the entry onto the process-wide zap logger
func (l *Log) forward(level model.LogLevel, msg string, fields map[string]string) {
	if l.logger == nil {
		return
	}

	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.String(k, v))
	}

	switch level {
	case model.LogDebug:
		l.logger.Debug(msg, zf...)
	case model.LogWarn:
		l.logger.Warn(msg, zf...)
	case model.LogError:
		l.logger.Error(msg, zf...)
	default:
		l.logger.Info(msg, zf...)
	}
}

// Recent returns up to limit entries, newest last. A non-positive limit
// returns the full retained history.
func (l *Log) Recent(limit int) []model.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}

	out := make([]model.LogEntry, limit)
	copy(out, l.entries[len(l.entries)-limit:])
	return out
}

// Clear drops the retained history
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

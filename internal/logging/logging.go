// Package logging provides structured JSON logging with levels and queryable storage.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity levels
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// levelPriority returns numeric priority for level comparison
func levelPriority(l Level) int {
	switch l {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

// ParseLevel converts a case-insensitive level name. The second return value
// is false for unknown names, in which case LevelInfo is returned.
func ParseLevel(s string) (Level, bool) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug, true
	case LevelInfo:
		return LevelInfo, true
	case LevelWarn, "warning":
		return LevelWarn, true
	case LevelError:
		return LevelError, true
	}
	return LevelInfo, false
}

// Entry represents a single log entry
type Entry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      Level          `json:"level"`
	Message    string         `json:"message"`
	Component  string         `json:"component,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// Logger provides structured logging with in-memory storage for querying
type Logger struct {
	mu         sync.RWMutex
	output     io.Writer
	level      Level
	component  string
	entries    []Entry
	maxEntries int
	counts     map[Level]int64
}

// Config holds logger configuration
type Config struct {
	Output     io.Writer // Output writer (default: os.Stderr)
	Level      Level     // Minimum log level (default: info)
	Component  string    // Component name for all entries
	MaxEntries int       // Max entries to keep in memory (default: 1000)
}

// New creates a new logger with the given configuration
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.Level == "" {
		cfg.Level = LevelInfo
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 1000
	}
	return &Logger{
		output:     cfg.Output,
		level:      cfg.Level,
		component:  cfg.Component,
		entries:    make([]Entry, 0, cfg.MaxEntries),
		maxEntries: cfg.MaxEntries,
		counts:     make(map[Level]int64),
	}
}

// Discard returns a logger that keeps entries in memory but writes nothing.
func Discard() *Logger {
	return New(Config{Output: io.Discard, Level: LevelDebug})
}

// SetLevel changes the minimum log level
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) enabled(level Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return levelPriority(level) >= levelPriority(l.level)
}

// emit stores the entry in the ring buffer and writes it as a JSON line.
func (l *Logger) emit(entry Entry) {
	if !l.enabled(entry.Level) {
		return
	}
	entry.Timestamp = time.Now().UTC()
	entry.Component = l.component

	l.mu.Lock()
	defer l.mu.Unlock()

	l.counts[entry.Level]++

	if len(l.entries) >= l.maxEntries {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, entry)

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.output, `{"level":"error","message":"failed to marshal log entry: %s"}`+"\n", err)
		return
	}
	l.output.Write(append(data, '\n'))
}

func firstFields(fields []map[string]any) map[string]any {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs at debug level
func (l *Logger) Debug(msg string, fields ...map[string]any) {
	l.emit(Entry{Level: LevelDebug, Message: msg, Fields: firstFields(fields)})
}

// Info logs at info level
func (l *Logger) Info(msg string, fields ...map[string]any) {
	l.emit(Entry{Level: LevelInfo, Message: msg, Fields: firstFields(fields)})
}

// Warn logs at warn level
func (l *Logger) Warn(msg string, fields ...map[string]any) {
	l.emit(Entry{Level: LevelWarn, Message: msg, Fields: firstFields(fields)})
}

// Error logs at error level
func (l *Logger) Error(msg string, fields ...map[string]any) {
	l.emit(Entry{Level: LevelError, Message: msg, Fields: firstFields(fields)})
}

// WithSession returns a logger that adds session_id to all entries
func (l *Logger) WithSession(sessionID string) *ScopedLogger {
	return &ScopedLogger{parent: l, sessionID: sessionID}
}

// ScopedLogger is a logger scoped to a stream session and, optionally, one tool call.
type ScopedLogger struct {
	parent     *Logger
	sessionID  string
	toolCallID string
}

// WithToolCall narrows the scope to a single tool call within the session.
func (s *ScopedLogger) WithToolCall(toolCallID string) *ScopedLogger {
	return &ScopedLogger{parent: s.parent, sessionID: s.sessionID, toolCallID: toolCallID}
}

// SessionID returns the session this logger is scoped to.
func (s *ScopedLogger) SessionID() string {
	return s.sessionID
}

func (s *ScopedLogger) log(level Level, msg string, fields map[string]any) {
	s.parent.emit(Entry{
		Level:      level,
		Message:    msg,
		SessionID:  s.sessionID,
		ToolCallID: s.toolCallID,
		Fields:     fields,
	})
}

func (s *ScopedLogger) Debug(msg string, fields ...map[string]any) {
	s.log(LevelDebug, msg, firstFields(fields))
}

func (s *ScopedLogger) Info(msg string, fields ...map[string]any) {
	s.log(LevelInfo, msg, firstFields(fields))
}

func (s *ScopedLogger) Warn(msg string, fields ...map[string]any) {
	s.log(LevelWarn, msg, firstFields(fields))
}

func (s *ScopedLogger) Error(msg string, fields ...map[string]any) {
	s.log(LevelError, msg, firstFields(fields))
}

// Query parameters for filtering logs
type Query struct {
	Level      Level     // Filter by minimum level
	SessionID  string    // Filter by session ID
	ToolCallID string    // Filter by tool call ID
	Since      time.Time // Filter entries after this time
	Until      time.Time // Filter entries before this time
	Limit      int       // Max entries to return (0 = all)
	Component  string    // Filter by component
}

// QueryResult contains filtered log entries and metadata
type QueryResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`  // Total entries matching filter (before limit)
	Counts  Stats   `json:"counts"` // Overall counts by level
}

// Stats contains log statistics
type Stats struct {
	Debug int64 `json:"debug"`
	Info  int64 `json:"info"`
	Warn  int64 `json:"warn"`
	Error int64 `json:"error"`
	Total int64 `json:"total"`
}

func (q Query) matches(e Entry) bool {
	if q.Level != "" && levelPriority(e.Level) < levelPriority(q.Level) {
		return false
	}
	if q.SessionID != "" && e.SessionID != q.SessionID {
		return false
	}
	if q.ToolCallID != "" && e.ToolCallID != q.ToolCallID {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
		return false
	}
	if q.Component != "" && e.Component != q.Component {
		return false
	}
	return true
}

// Query returns log entries matching the filter criteria
func (l *Logger) Query(q Query) QueryResult {
	l.mu.RLock()
	defer l.mu.RUnlock()

	filtered := make([]Entry, 0)
	for _, e := range l.entries {
		if q.matches(e) {
			filtered = append(filtered, e)
		}
	}

	total := len(filtered)

	// Most recent entries win when a limit applies
	if q.Limit > 0 && len(filtered) > q.Limit {
		filtered = filtered[len(filtered)-q.Limit:]
	}

	return QueryResult{
		Entries: filtered,
		Total:   total,
		Counts:  l.statsLocked(),
	}
}

// Stats returns current log statistics without entries
func (l *Logger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.statsLocked()
}

func (l *Logger) statsLocked() Stats {
	stats := Stats{
		Debug: l.counts[LevelDebug],
		Info:  l.counts[LevelInfo],
		Warn:  l.counts[LevelWarn],
		Error: l.counts[LevelError],
	}
	stats.Total = stats.Debug + stats.Info + stats.Warn + stats.Error
	return stats
}

// Clear removes all stored entries and resets counts
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make([]Entry, 0, l.maxEntries)
	l.counts = make(map[Level]int64)
}

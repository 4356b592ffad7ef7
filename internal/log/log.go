// Package log provides category-based structured logging for protoreg.
// Logging is off until Init is called (via --log-file or PROTOREG_DEBUG), so
// library code can log freely without producing output by default.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/protoreg/internal/pubsub"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a Level. Unknown names yield LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Category groups related log messages.
type Category string

const (
	CatResolve Category = "resolve" // URN resolution
	CatCache   Category = "cache"   // resolution cache
	CatStore   Category = "store"   // manifest sources: files, etcd
	CatCatalog Category = "catalog" // catalog analysis and validation
	CatDiff    Category = "diff"    // structural diffs and migrations
	CatHistory Category = "history" // revision log
	CatHTTP    Category = "http"    // HTTP resolver
	CatMCP     Category = "mcp"     // MCP tool server
	CatConfig  Category = "config"  // configuration loading/saving
	CatWatcher Category = "watcher" // manifest directory watcher
)

// Logger provides structured logging.
type Logger struct {
	mu       sync.Mutex
	closer   io.Closer
	writer   io.Writer
	enabled  bool
	minLevel Level
	broker   *pubsub.Broker[string]
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// Init opens path for appending and installs it as the global log sink.
// Returns a cleanup function that closes the file.
func Init(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // G304: path is the user-chosen log file
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	install(newLogger(f, f))
	return func() { Close() }, nil
}

// InitWriter installs w as the global log sink. Used by tests and by the
// serve command when logging to stderr.
func InitWriter(w io.Writer) {
	install(newLogger(w, nil))
}

func newLogger(w io.Writer, c io.Closer) *Logger {
	return &Logger{
		closer:   c,
		writer:   w,
		enabled:  true,
		minLevel: LevelDebug,
		broker:   pubsub.NewBroker[string](),
	}
}

func install(l *Logger) {
	defaultMu.Lock()
	prev := defaultLogger
	defaultLogger = l
	defaultMu.Unlock()
	if prev != nil {
		prev.close()
	}
}

func current() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Close detaches and closes the global logger.
func Close() {
	defaultMu.Lock()
	l := defaultLogger
	defaultLogger = nil
	defaultMu.Unlock()
	if l != nil {
		l.close()
	}
}

func (l *Logger) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.broker.Close()
	if l.closer != nil {
		_ = l.closer.Close()
		l.closer = nil
	}
	l.writer = nil
}

// SetEnabled toggles logging on/off.
func SetEnabled(enabled bool) {
	if l := current(); l != nil {
		l.mu.Lock()
		l.enabled = enabled
		l.mu.Unlock()
	}
}

// SetMinLevel sets the minimum log level.
func SetMinLevel(level Level) {
	if l := current(); l != nil {
		l.mu.Lock()
		l.minLevel = level
		l.mu.Unlock()
	}
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) {
	write(LevelDebug, cat, msg, fields...)
}

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) {
	write(LevelInfo, cat, msg, fields...)
}

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) {
	write(LevelWarn, cat, msg, fields...)
}

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) {
	write(LevelError, cat, msg, fields...)
}

// ErrorErr logs an error with the error value.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	if err != nil {
		fields = append(fields, "error", err.Error())
	} else {
		fields = append(fields, "error", "<nil>")
	}
	write(LevelError, cat, msg, fields...)
}

// Format renders one log line without the trailing newline:
//
//	2025-12-06T10:45:00 [ERROR] [resolve] message key=value key2=value2
func Format(ts time.Time, level Level, cat Category, msg string, fields ...any) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] [%s] %s", ts.Format("2006-01-02T15:04:05"), level, cat, msg)
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", fields[i], fields[i+1])
	}
	if len(fields)%2 != 0 {
		fmt.Fprintf(&sb, " %v=<missing>", fields[len(fields)-1])
	}
	return sb.String()
}

func write(level Level, cat Category, msg string, fields ...any) {
	l := current()
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled || level < l.minLevel || l.writer == nil {
		return
	}

	entry := Format(time.Now(), level, cat, msg, fields...)
	_, _ = io.WriteString(l.writer, entry+"\n")
	l.broker.Publish(pubsub.CreatedEvent, entry)
}

// NewListener subscribes to log lines for the lifetime of ctx. It returns nil
// when logging is not initialised.
func NewListener(ctx context.Context) *pubsub.Listener[string] {
	l := current()
	if l == nil {
		return nil
	}
	return pubsub.NewListener[string](ctx, l.broker)
}

package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/killallgit/threadline/pkg/config"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel converts a level name to a LogLevel, defaulting to info
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error", "fatal":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes leveled lines to a file. Errors are echoed to stderr when
// the logger owns a file, so failures stay visible on the terminal.
type Logger struct {
	mu     sync.Mutex
	level  LogLevel
	out    *log.Logger
	file   *os.File
	stderr io.Writer
}

var (
	std   *Logger
	stdMu sync.RWMutex
)

// Init replaces the default logger with one built from settings
func Init(settings config.LoggingConfig) error {
	l, err := New(ParseLevel(settings.Level), settings.LogFile, settings.Preserve)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	stdMu.Lock()
	previous := std
	std = l
	stdMu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return nil
}

// New opens logFile for writing, truncating it unless preserve is set
func New(level LogLevel, logFile string, preserve bool) (*Logger, error) {
	if logFile == "" {
		logFile = config.DefaultLogFile
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	mode := os.O_TRUNC
	if preserve {
		mode = os.O_APPEND
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|mode, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Logger{
		level:  level,
		out:    log.New(file, "", log.LstdFlags),
		file:   file,
		stderr: os.Stderr,
	}, nil
}

// NewWithWriter logs to w without timestamps or stderr echo. Used in tests.
func NewWithWriter(level LogLevel, w io.Writer) *Logger {
	return &Logger{level: level, out: log.New(w, "", 0)}
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) enabled(level LogLevel) bool {
	return level >= l.level
}

func (l *Logger) write(level LogLevel, line string) {
	if !l.enabled(level) {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Printf("[%s] %s", level, line)
	if l.stderr != nil && level >= LevelError {
		fmt.Fprintf(l.stderr, "[%s] %s\n", level, line)
	}
}

func (l *Logger) Debug(format string, args ...any) { l.write(LevelDebug, fmt.Sprintf(format, args...)) }
func (l *Logger) Info(format string, args ...any)  { l.write(LevelInfo, fmt.Sprintf(format, args...)) }
func (l *Logger) Warn(format string, args ...any)  { l.write(LevelWarn, fmt.Sprintf(format, args...)) }
func (l *Logger) Error(format string, args ...any) { l.write(LevelError, fmt.Sprintf(format, args...)) }

func current() *Logger {
	stdMu.RLock()
	defer stdMu.RUnlock()
	return std
}

// Package-level helpers are no-ops until Init or SetDefault

func Debug(format string, args ...any) { logf(LevelDebug, format, args) }
func Info(format string, args ...any)  { logf(LevelInfo, format, args) }
func Warn(format string, args ...any)  { logf(LevelWarn, format, args) }
func Error(format string, args ...any) { logf(LevelError, format, args) }

func logf(level LogLevel, format string, args []any) {
	if l := current(); l != nil && l.enabled(level) {
		l.write(level, fmt.Sprintf(format, args...))
	}
}

// SetDefault swaps the default logger without closing the previous one
func SetDefault(l *Logger) {
	stdMu.Lock()
	std = l
	stdMu.Unlock()
}

// Close closes and clears the default logger
func Close() error {
	stdMu.Lock()
	l := std
	std = nil
	stdMu.Unlock()

	if l == nil {
		return nil
	}
	return l.Close()
}

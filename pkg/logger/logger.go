package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel represents the severity of a log message
type LogLevel int32

const (
	// DebugLevel for detailed debugging information
	DebugLevel LogLevel = iota
	// InfoLevel for general informational messages
	InfoLevel
	// WarnLevel for warning messages
	WarnLevel
	// ErrorLevel for error messages
	ErrorLevel
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config/flag value to a LogLevel. Unknown values fall back to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger provides structured logging with different log levels.
// Loggers derived with WithPrefix share the level of their parent.
type Logger struct {
	logger   *log.Logger
	level    *atomic.Int32
	prefix   string
	useColor bool
}

// New creates a new Logger instance
func New(out io.Writer, prefix string, level LogLevel) *Logger {
	lvl := new(atomic.Int32)
	lvl.Store(int32(level))
	return &Logger{
		logger:   log.New(out, "", log.LstdFlags),
		level:    lvl,
		prefix:   prefix,
		useColor: isTerminal(out),
	}
}

// NewDefault creates a logger with default settings (INFO level)
func NewDefault(prefix string) *Logger {
	return New(os.Stdout, prefix, InfoLevel)
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return New(io.Discard, "", ErrorLevel+1)
}

// WithPrefix returns a child logger writing to the same output with an
// additional component tag, e.g. "PULSE [Relay]".
func (l *Logger) WithPrefix(component string) *Logger {
	return &Logger{
		logger:   l.logger,
		level:    l.level,
		prefix:   strings.TrimSpace(l.prefix + " [" + component + "]"),
		useColor: l.useColor,
	}
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

// Level returns the current minimum log level
func (l *Logger) Level() LogLevel {
	return LogLevel(l.level.Load())
}

func (l *Logger) enabled(level LogLevel) bool {
	return l.Level() <= level
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...any) {
	if l.enabled(DebugLevel) {
		l.log(DebugLevel, format, v...)
	}
}

// Info logs an informational message
func (l *Logger) Info(format string, v ...any) {
	if l.enabled(InfoLevel) {
		l.log(InfoLevel, format, v...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...any) {
	if l.enabled(WarnLevel) {
		l.log(WarnLevel, format, v...)
	}
}

// Error logs an error message
func (l *Logger) Error(format string, v ...any) {
	if l.enabled(ErrorLevel) {
		l.log(ErrorLevel, format, v...)
	}
}

// Printf provides backward compatibility with standard log.Logger
func (l *Logger) Printf(format string, v ...any) {
	l.Info(format, v...)
}

// Println provides backward compatibility with standard log.Logger
func (l *Logger) Println(v ...any) {
	l.Info("%s", fmt.Sprint(v...))
}

func (l *Logger) log(level LogLevel, format string, v ...any) {
	levelStr := level.String()
	if l.useColor {
		levelStr = colorize(level, levelStr)
	}

	message := fmt.Sprintf(format, v...)
	if l.prefix == "" {
		l.logger.Printf("[%s] %s", levelStr, message)
		return
	}
	l.logger.Printf("%s [%s] %s", l.prefix, levelStr, message)
}

// colorize adds ANSI color codes to the log level
func colorize(level LogLevel, text string) string {
	const (
		colorReset  = "\033[0m"
		colorGray   = "\033[90m"
		colorGreen  = "\033[32m"
		colorYellow = "\033[33m"
		colorRed    = "\033[31m"
	)

	switch level {
	case DebugLevel:
		return colorGray + text + colorReset
	case InfoLevel:
		return colorGreen + text + colorReset
	case WarnLevel:
		return colorYellow + text + colorReset
	case ErrorLevel:
		return colorRed + text + colorReset
	default:
		return text
	}
}

// isTerminal checks if the writer is a terminal
func isTerminal(w io.Writer) bool {
	if w == os.Stdout || w == os.Stderr {
		term := os.Getenv("TERM")
		return term != "" && !strings.Contains(term, "dumb")
	}
	return false
}

// Writer returns an io.Writer that logs every write at level, one entry per
// line. It lets third-party middleware share the application log.
func (l *Logger) Writer(level LogLevel) io.Writer {
	return levelWriter{l: l, level: level}
}

type levelWriter struct {
	l     *Logger
	level LogLevel
}

func (w levelWriter) Write(p []byte) (int, error) {
	if !w.l.enabled(w.level) {
		return len(p), nil
	}
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.l.log(w.level, "%s", line)
		}
	}
	return len(p), nil
}

// Package logging is the server's slog setup: a console or JSON handler,
// component-scoped loggers and a process-wide default.
package logging

import (
	"bytes"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"

	"grimm.is/humangym/internal/brand"
)

type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

const componentKey = "component"

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// Logger is an slog.Logger whose level can change at runtime.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// Config holds logger configuration.
type Config struct {
	Level  Level
	Output io.Writer
	JSON   bool
	// Process names the console line prefix. Defaults to the binary name.
	Process string
}

func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr, Process: brand.LowerName}
}

// ConfigFromEnv reads HUMANGYM_LOG_LEVEL and HUMANGYM_LOG_JSON.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if lvl := os.Getenv(brand.ConfigEnvPrefix + "_LOG_LEVEL"); lvl != "" {
		cfg.Level = ParseLevel(lvl)
	}
	cfg.JSON = os.Getenv(brand.ConfigEnvPrefix+"_LOG_JSON") == "1"
	return cfg
}

// ParseLevel maps debug/info/warn/error to a Level. Unknown names yield info.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	process := cfg.Process
	if process == "" {
		process = brand.LowerName
	}

	lv := &slog.LevelVar{}
	lv.Set(cfg.Level)

	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lv})
	} else {
		h = NewConsoleHandler(out, process, lv)
	}
	return &Logger{Logger: slog.New(h), level: lv}
}

// Default returns the process-wide logger, built from the environment on
// first use.
func Default() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(ConfigFromEnv())
	}
	return defaultLogger
}

func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

func (l *Logger) SetLevel(level Level) { l.level.Set(level) }

func (l *Logger) Level() Level { return l.level.Level() }

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// WithComponent tags every line with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return l.with(componentKey, name)
}

func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return l.with(args...)
}

// Lifecycle logs a session transition such as session_start at info level.
func (l *Logger) Lifecycle(event, session string, details map[string]any) {
	args := make([]any, 0, 4+len(details)*2)
	args = append(args, "lifecycle", event, "session", session)
	for k, v := range details {
		args = append(args, k, v)
	}
	l.Info("SESSION "+strings.ToUpper(event), args...)
}

// StdLogger adapts l for APIs that want a *log.Logger, such as
// http.Server.ErrorLog. Lines are logged at warn.
func (l *Logger) StdLogger() *log.Logger {
	return log.New(stdBridge{l}, "", 0)
}

type stdBridge struct{ l *Logger }

func (b stdBridge) Write(p []byte) (int, error) {
	b.l.Warn(string(bytes.TrimSpace(p)))
	return len(p), nil
}

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }

func WithComponent(name string) *Logger { return Default().WithComponent(name) }

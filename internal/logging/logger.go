package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"sshmux/internal/target"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat represents the output format for logs
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Config holds logging configuration
type Config struct {
	Level  LogLevel  // Minimum log level to output
	Format LogFormat // Output format (json or text)
	Output io.Writer // Output destination (defaults to stderr)
}

// Logger wraps slog.Logger with the sshmux event vocabulary
type Logger struct {
	logger *slog.Logger
	config Config
}

// NewLogger creates a new logger instance
func NewLogger(config Config) *Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: convertLogLevel(config.Level),
	}

	switch config.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(config.Output, opts)
	default:
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return &Logger{
		logger: slog.New(handler),
		config: config,
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return NewLogger(Config{Level: LevelError, Output: io.Discard})
}

func convertLogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

// Info logs an informational message
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Warn logs a warning
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// LogSpawn logs a successfully launched remote command
func (l *Logger) LogSpawn(index int, t target.Target, duration time.Duration) {
	l.Debug("remote command spawned",
		"index", index,
		"host", t.Host,
		"user", t.User,
		"port", t.EffectivePort(),
		"duration_ms", duration.Milliseconds(),
		// Never log identity file paths or the command itself
	)
}

// LogSpawnError logs a remote command that could not be launched
func (l *Logger) LogSpawnError(index int, t target.Target, kind string, err error) {
	l.Error("remote command spawn failed",
		"index", index,
		"host", t.Host,
		"user", t.User,
		"port", t.EffectivePort(),
		"kind", kind,
		"error", err.Error(),
	)
}

// LogTaskState logs a task state transition
func (l *Logger) LogTaskState(index int, host string, from, to string) {
	l.Debug("task state changed",
		"index", index,
		"host", host,
		"from", from,
		"to", to,
	)
}

// LogStreamError logs a read failure on one output stream
func (l *Logger) LogStreamError(host, stream string, err error) {
	l.Warn("stream read failed",
		"host", host,
		"stream", stream,
		"error", err.Error(),
	)
}

// LogTaskComplete logs the end of one host's task
func (l *Logger) LogTaskComplete(index int, host string, outcome string, exitCode int, lines int, duration time.Duration) {
	l.Info("task completed",
		"index", index,
		"host", host,
		"outcome", outcome,
		"exit_code", exitCode,
		"lines", lines,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogRunStart logs the start of a run
func (l *Logger) LogRunStart(targetCount int, concurrency int, transport string) {
	l.Info("run started",
		"target_count", targetCount,
		"concurrency", concurrency,
		"transport", transport,
	)
}

// LogRunComplete logs the end of a run
func (l *Logger) LogRunComplete(targetCount, completed, spawnFailed, nonZero int, duration time.Duration) {
	l.Info("run completed",
		"target_count", targetCount,
		"completed", completed,
		"spawn_failed", spawnFailed,
		"non_zero_exit", nonZero,
		"total_duration_ms", duration.Milliseconds(),
	)
}

// LogConfigLoad logs configuration loading events
func (l *Logger) LogConfigLoad(source string, hosts int) {
	l.Info("configuration loaded",
		"source", source,
		"hosts", hosts,
	)
}

// LogConfigError logs configuration errors
func (l *Logger) LogConfigError(source string, err error) {
	l.Error("configuration error",
		"source", source,
		"error", err.Error(),
	)
}

// NewLoggerFromConfig creates a logger from application settings
func NewLoggerFromConfig(logLevel, logFormat string, output io.Writer) *Logger {
	level := LogLevel(logLevel)
	switch level {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
	default:
		level = LevelWarn
	}

	format := FormatText
	if LogFormat(logFormat) == FormatJSON {
		format = FormatJSON
	}

	return NewLogger(Config{
		Level:  level,
		Format: format,
		Output: output,
	})
}

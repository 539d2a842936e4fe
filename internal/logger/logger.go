// Package logger provides structured logging for docgate
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with docgate-specific functionality
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger
func NewLogger(cfg Config) *Logger {
	// Set global log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Pretty printing for development
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	// Create logger
	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "docgate").
		Logger()

	// Add caller information if requested
	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

// Info logs an info message
func (l *Logger) Info(msg string) *zerolog.Event {
	return l.zlog.Info().Str("msg", msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) *zerolog.Event {
	return l.zlog.Debug().Str("msg", msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) *zerolog.Event {
	return l.zlog.Warn().Str("msg", msg)
}

// Error logs an error message
func (l *Logger) Error(msg string) *zerolog.Event {
	return l.zlog.Error().Str("msg", msg)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string) *zerolog.Event {
	return l.zlog.Fatal().Str("msg", msg)
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// DispatchLogger returns a logger for event dispatch operations
func (l *Logger) DispatchLogger() *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "dispatch").
			Logger(),
	}
}

// AuthLogger returns a logger for authorization operations
func (l *Logger) AuthLogger() *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "auth").
			Logger(),
	}
}

// StoreLogger returns a logger for storage operations
func (l *Logger) StoreLogger(operation string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "store").
			Str("operation", operation).
			Logger(),
	}
}

// SchedLogger returns a logger for background sweep operations
func (l *Logger) SchedLogger() *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "sched").
			Logger(),
	}
}

// LogEvent logs one handled inbound event with structured fields
func (l *Logger) LogEvent(userID int64, outcome string, duration time.Duration, err error) {
	event := l.zlog.Info().
		Str("component", "dispatch").
		Int64("user_id", userID).
		Str("outcome", outcome).
		Dur("duration_ms", duration)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "dispatch").
			Int64("user_id", userID).
			Str("outcome", outcome).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("Event handled")
}

// LogStoreOperation logs a storage operation with structured fields
func (l *Logger) LogStoreOperation(operation string, duration time.Duration, recordCount int, err error) {
	event := l.zlog.Debug().
		Str("component", "store").
		Str("operation", operation).
		Dur("duration_ms", duration).
		Int("record_count", recordCount)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "store").
			Str("operation", operation).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("Storage operation completed")
}

// LogServerStart logs server startup
func (l *Logger) LogServerStart(port int, dbPath string) {
	l.zlog.Info().
		Str("event", "server_start").
		Int("port", port).
		Str("database", dbPath).
		Msg("docgate server starting")
}

// LogServerReady logs when server is ready
func (l *Logger) LogServerReady(port int) {
	l.zlog.Info().
		Str("event", "server_ready").
		Int("port", port).
		Msg("docgate server ready to accept connections")
}

// LogServerShutdown logs server shutdown
func (l *Logger) LogServerShutdown() {
	l.zlog.Info().
		Str("event", "server_shutdown").
		Msg("docgate server shutting down")
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		// Initialize with defaults if not set
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}

// Package logging provides structured logging for the SFTP server, based on zap.
// It supports configurable log levels and output formats (JSON/text).
package logging

import (
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger atomic.Pointer[zap.Logger]
	sugar  atomic.Pointer[zap.SugaredLogger]
)

// Config holds logging configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text

	// Output defaults to os.Stdout.
	Output io.Writer
}

func init() {
	// Usable before Init is called (tests, early startup).
	l, _ := zap.NewDevelopment(zap.AddCallerSkip(1))
	set(l)
}

func set(l *zap.Logger) {
	logger.Store(l)
	sugar.Store(l.Sugar())
}

// Init initializes the logging system with the given configuration.
// It should be called early in the application startup.
func Init(cfg *Config) error {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	core := zapcore.NewCore(
		createEncoder(cfg.Format),
		zapcore.AddSync(out),
		ParseLevel(cfg.Level),
	)

	set(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)))

	// SSH and SFTP libraries report through the standard logger.
	redirectStdLog()

	return nil
}

// stdLogWriter implements io.Writer to redirect standard log output to zap.
type stdLogWriter struct{}

func (w *stdLogWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSuffix(string(p), "\n")
	// Strip a "2006/01/02 15:04:05 " prefix if present.
	if len(msg) > 20 && msg[4] == '/' && msg[7] == '/' && msg[10] == ' ' {
		msg = msg[20:]
	}
	S().Warnw(msg, "source", "stdlib")
	return len(p), nil
}

func redirectStdLog() {
	log.SetFlags(0)
	log.SetOutput(&stdLogWriter{})
}

// ParseLevel converts a string level to zapcore.Level. Unknown levels map to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func createEncoder(format string) zapcore.Encoder {
	if strings.ToLower(format) == "json" {
		return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		})
	}

	return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})
}

// Sync flushes any buffered log entries.
func Sync() error {
	return L().Sync()
}

// L returns the underlying zap.Logger.
func L() *zap.Logger {
	return logger.Load()
}

// S returns the underlying zap.SugaredLogger.
func S() *zap.SugaredLogger {
	return sugar.Load()
}

// With returns a child logger carrying the given fields, e.g. one per SFTP session.
// The child does not skip the wrapper frame, so callers log on it directly.
func With(fields ...zap.Field) *zap.Logger {
	return L().WithOptions(zap.AddCallerSkip(-1)).With(fields...)
}

// Named returns a child logger for a subsystem.
func Named(name string) *zap.Logger {
	return L().WithOptions(zap.AddCallerSkip(-1)).Named(name)
}

// =============================================================================
// Structured logging functions (with zap.Field)
// =============================================================================

// Debug logs a message at DebugLevel with structured fields.
func Debug(msg string, fields ...zap.Field) {
	L().Debug(msg, fields...)
}

// Info logs a message at InfoLevel with structured fields.
func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

// Warn logs a message at WarnLevel with structured fields.
func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

// Error logs a message at ErrorLevel with structured fields.
func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}

// Fatal logs a message at FatalLevel with structured fields, then calls os.Exit(1).
func Fatal(msg string, fields ...zap.Field) {
	L().Fatal(msg, fields...)
}

// Infof logs a formatted message at InfoLevel.
func Infof(template string, args ...interface{}) {
	S().Infof(template, args...)
}

// Warnf logs a formatted message at WarnLevel.
func Warnf(template string, args ...interface{}) {
	S().Warnf(template, args...)
}

// =============================================================================
// Helper functions for common field types
// =============================================================================

// String creates a string field.
func String(key, value string) zap.Field {
	return zap.String(key, value)
}

// Int creates an int field.
func Int(key string, value int) zap.Field {
	return zap.Int(key, value)
}

// Int64 creates an int64 field.
func Int64(key string, value int64) zap.Field {
	return zap.Int64(key, value)
}

// Uint64 creates a uint64 field.
func Uint64(key string, value uint64) zap.Field {
	return zap.Uint64(key, value)
}

// Uint32 creates a uint32 field.
func Uint32(key string, value uint32) zap.Field {
	return zap.Uint32(key, value)
}

// Bool creates a bool field.
func Bool(key string, value bool) zap.Field {
	return zap.Bool(key, value)
}

// Err creates an error field with key "error".
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Any creates a field with any value (uses reflection).
func Any(key string, value interface{}) zap.Field {
	return zap.Any(key, value)
}

// Package logger provides a structured, module-aware logging system built on Go's standard log/slog.
//
// Components receive a Logger and scope it with Module:
//
//	centralLogger, err := logger.NewCentralLogger(&settings.Logging)
//	if err != nil {
//	    return err
//	}
//	defer centralLogger.Close()
//
//	log := centralLogger.Module("pipeline").Module("clean")
//	log.Info("source ingested",
//	    logger.String("source", "usda_foundation"),
//	    logger.Int("accepted", 312),
//	    logger.Int("skipped", 4))
//
// Console output is human-readable text, file output is JSON. Module names
// nest with "." so "pipeline.clean" can be routed and levelled on its own.
//
// Tests use NewSlogLogger with a buffer or io.Discard.
package logger

import (
	"context"
	"time"
	"unique"
)

// LogLevel represents log severity levels
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Field represents a structured log field.
// Keys are interned using unique.Make() so the same key used across many
// log calls shares a single allocation.
type Field struct {
	Key   string
	Value any
}

// internKey returns an interned version of the key string.
func internKey(key string) string {
	return unique.Make(key).Value()
}

// Pre-interned common keys
var (
	errorKey   = internKey("error")
	moduleKey  = internKey("module")
	traceIDKey = internKey("trace_id")
)

// Logger is the centralized logging interface for dependency injection
type Logger interface {
	// Module returns a logger scoped to a specific module
	Module(name string) Logger

	// Trace is below Debug, used for SQL statements
	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a logger that adds fields to every entry
	With(fields ...Field) Logger
	// WithContext attaches the trace id carried by ctx, if any
	WithContext(ctx context.Context) Logger

	// Flush ensures all buffered logs are written
	Flush() error
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: internKey(key), Value: value}
}

// Int creates an integer field.
func Int(key string, value int) Field {
	return Field{Key: internKey(key), Value: value}
}

// Int64 creates a 64-bit integer field.
func Int64(key string, value int64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Float64 creates a float field. Values are rounded to three decimals on output.
func Float64(key string, value float64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Bool creates a boolean field.
func Bool(key string, value bool) Field {
	return Field{Key: internKey(key), Value: value}
}

// Error creates an error field. The key is always "error".
func Error(err error) Field {
	if err == nil {
		return Field{Key: errorKey, Value: nil}
	}
	return Field{Key: errorKey, Value: err.Error()}
}

// Duration creates a duration field, rendered as e.g. "1.5s".
func Duration(key string, value time.Duration) Field {
	return Field{Key: internKey(key), Value: value}
}

package logger

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"
	"time"
)

// levelTrace sits below slog's Debug (-4)
const levelTrace = slog.Level(-8)

func parseLogLevel(level string) slog.Level {
	switch LogLevel(level) {
	case LogLevelTrace:
		return levelTrace
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// moduleLogger is the Logger handed to components
type moduleLogger struct {
	module string
	logger *slog.Logger
	level  slog.Level
	fields []Field
}

// NewSlogLogger returns a module-less Logger writing text to w.
// A nil writer means stderr and a nil timezone means UTC.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if w == nil {
		w = os.Stderr
	}
	if tz == nil {
		tz = time.UTC
	}
	lvl := parseLogLevel(string(level))
	return &moduleLogger{logger: slog.New(newTextHandler(w, lvl, tz)), level: lvl}
}

// Module nests name under the current module, "pipeline" then "clean"
// gives "pipeline.clean".
func (m *moduleLogger) Module(name string) Logger {
	if m == nil {
		return nil
	}
	child := m.derive(slices.Clone(m.fields))
	if m.module != "" {
		child.module = m.module + "." + name
	} else {
		child.module = name
	}
	return child
}

func (m *moduleLogger) With(fields ...Field) Logger {
	if m == nil {
		return nil
	}
	return m.derive(slices.Concat(m.fields, fields))
}

func (m *moduleLogger) WithContext(ctx context.Context) Logger {
	if m == nil {
		return nil
	}
	if id := traceIDFrom(ctx); id != "" {
		return m.With(String(traceIDKey, id))
	}
	return m
}

func (m *moduleLogger) derive(fields []Field) *moduleLogger {
	return &moduleLogger{module: m.module, logger: m.logger, level: m.level, fields: fields}
}

func (m *moduleLogger) Trace(msg string, fields ...Field) { m.log(levelTrace, msg, fields) }
func (m *moduleLogger) Debug(msg string, fields ...Field) { m.log(slog.LevelDebug, msg, fields) }
func (m *moduleLogger) Info(msg string, fields ...Field) { m.log(slog.LevelInfo, msg, fields) }
func (m *moduleLogger) Warn(msg string, fields ...Field) { m.log(slog.LevelWarn, msg, fields) }
func (m *moduleLogger) Error(msg string, fields ...Field) { m.log(slog.LevelError, msg, fields) }

// Flush is a no-op, the CentralLogger owns the files
func (m *moduleLogger) Flush() error {
	return nil
}

func (m *moduleLogger) log(level slog.Level, msg string, fields []Field) {
	if m == nil || level < m.level {
		return
	}
	attrs := make([]slog.Attr, 0, 1+len(m.fields)+len(fields))
	if m.module != "" {
		attrs = append(attrs, slog.String(moduleKey, m.module))
	}
	for _, f := range m.fields {
		attrs = append(attrs, fieldToAttr(f))
	}
	for _, f := range fields {
		attrs = append(attrs, fieldToAttr(f))
	}
	m.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// fieldToAttr converts a Field, redacting secrets by key and rounding
// floats to three decimals
func fieldToAttr(f Field) slog.Attr {
	if s, ok := f.Value.(string); ok && s != "" && isSensitiveKey(f.Key) {
		return slog.String(f.Key, redactedValue)
	}

	switch v := f.Value.(type) {
	case string:
		return slog.String(f.Key, v)
	case int:
		return slog.Int(f.Key, v)
	case int64:
		return slog.Int64(f.Key, v)
	case float64:
		return slog.Float64(f.Key, math.Round(v*1000)/1000)
	case bool:
		return slog.Bool(f.Key, v)
	case time.Duration:
		// slog.Duration renders nanoseconds in JSON
		return slog.String(f.Key, v.Round(time.Millisecond).String())
	default:
		return slog.Any(f.Key, v)
	}
}

type traceIDContextKey struct{}

// WithTraceID returns a context whose loggers, via WithContext, tag entries
// with trace_id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDContextKey{}, traceID)
}

func traceIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceIDContextKey{}).(string)
	return id
}

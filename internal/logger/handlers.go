package logger

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/tphakala/nutrigraph/internal/errors"
)

// newTextHandler builds the console handler. The record timestamp is
// dropped; the terminal or journald supplies one. Time-valued fields are
// rendered in tz.
func newTextHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			if len(groups) == 0 && a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == levelTrace {
					return slog.String(slog.LevelKey, "TRACE")
				}
			}
			if a.Value.Kind() == slog.KindTime && tz != nil {
				return slog.Time(a.Key, a.Value.Time().In(tz))
			}
			if s, ok := a.Value.Any().(string); ok && a.Value.Kind() == slog.KindString {
				return slog.String(a.Key, RedactSensitiveData(s))
			}
			return a
		},
	})
}

// newJSONHandler builds a file handler, secrets in string values are redacted
func newJSONHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindString {
				return slog.String(a.Key, RedactSensitiveData(a.Value.String()))
			}
			return a
		},
	})
}

// combine returns the only handler or a fan-out over all of them
func combine(handlers []slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return fanout(handlers)
}

// fanout sends each record to every handler that accepts its level
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

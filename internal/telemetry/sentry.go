// Package telemetry provides opt-in, privacy-filtered error reporting to
// Sentry. Errors built through the errors package are forwarded once
// Init has run.
package telemetry

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/nutrigraph/internal/buildinfo"
	"github.com/tphakala/nutrigraph/internal/conf"
	"github.com/tphakala/nutrigraph/internal/errors"
	"github.com/tphakala/nutrigraph/internal/logger"
	"github.com/tphakala/nutrigraph/internal/privacy"
)

// DefaultFlushTimeout bounds the wait for queued events on shutdown
const DefaultFlushTimeout = 2 * time.Second

// extra fields that survive privacy filtering
var allowedExtra = map[string]bool{
	"error_type": true,
	"component":  true,
}

var initialized atomic.Bool

// Options configures Init
type Options struct {
	Enabled bool
	DSN     string
	Build   *buildinfo.Context
	// Transport replaces the SDK's HTTP transport; used by tests
	Transport sentry.Transport
}

// OptionsFromSettings maps the telemetry section of the configuration
func OptionsFromSettings(settings *conf.Settings, build *buildinfo.Context) Options {
	return Options{
		Enabled: settings.Telemetry.Enabled,
		DSN:     settings.Telemetry.DSN,
		Build:   build,
	}
}

// Init starts the Sentry client and hooks it into the errors package.
// Telemetry is opt-in: with Enabled false nothing is initialized.
func Init(opts Options, log logger.Logger) error {
	if log == nil {
		log = logger.Global().Module("telemetry")
	}
	if !opts.Enabled {
		log.Debug("telemetry disabled (opt-in required)")
		return nil
	}
	if opts.DSN == "" {
		return errors.Newf("telemetry enabled without a dsn").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",
		Release:          opts.Build.Release(),
		Transport:        opts.Transport,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetContext("application", map[string]any{
			"name":       "NutriGraph",
			"version":    opts.Build.GetVersion(),
			"build_date": opts.Build.GetBuildDate(),
			"go_version": runtime.Version(),
		})
	})

	errors.SetPrivacyScrubber(privacy.ScrubMessage)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	initialized.Store(true)

	log.Info("telemetry enabled", logger.String("release", opts.Build.Release()))
	return nil
}

// Flush waits up to timeout for queued events and detaches the reporter.
// It is a no-op when Init did not enable telemetry.
func Flush(timeout time.Duration) bool {
	if !initialized.Swap(false) {
		return true
	}
	errors.SetTelemetryReporter(nil)
	return sentry.Flush(timeout)
}

// applyPrivacyFilters strips user, host and runtime details from an event
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if !allowedExtra[k] {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}
	return event
}

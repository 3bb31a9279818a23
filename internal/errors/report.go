package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter receives every built error while it is enabled
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// ErrorHook is called synchronously for every built error while reporting is active.
type ErrorHook func(ee *EnhancedError)

var (
	reporter atomic.Pointer[TelemetryReporter]

	hooksMu sync.RWMutex
	hooks   []ErrorHook

	// reportingActive is true if a hook is registered or the reporter is enabled
	reportingActive atomic.Bool
)

// SetTelemetryReporter installs the reporter, nil removes it
func SetTelemetryReporter(r TelemetryReporter) {
	if r == nil {
		reporter.Store(nil)
	} else {
		reporter.Store(&r)
	}
	refreshReporting()
}

// GetTelemetryReporter returns the installed reporter, if any
func GetTelemetryReporter() TelemetryReporter {
	if p := reporter.Load(); p != nil {
		return *p
	}
	return nil
}

// AddErrorHook registers a hook, e.g. for counting errors per category.
func AddErrorHook(hook ErrorHook) {
	hooksMu.Lock()
	hooks = append(hooks, hook)
	hooksMu.Unlock()
	refreshReporting()
}

// ClearErrorHooks removes all registered hooks.
func ClearErrorHooks() {
	hooksMu.Lock()
	hooks = nil
	hooksMu.Unlock()
	refreshReporting()
}

func refreshReporting() {
	hooksMu.RLock()
	active := len(hooks) > 0
	hooksMu.RUnlock()

	if r := GetTelemetryReporter(); r != nil && r.IsEnabled() {
		active = true
	}
	reportingActive.Store(active)
}

func report(ee *EnhancedError) {
	hooksMu.RLock()
	registered := hooks
	hooksMu.RUnlock()
	for _, hook := range registered {
		hook(ee)
	}

	if r := GetTelemetryReporter(); r != nil && r.IsEnabled() {
		r.ReportError(ee)
	}
}

// SentryReporter sends errors to Sentry after scrubbing their text
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a Sentry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled reports whether events are sent
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError sends ee once. Skipped records are expected and never sent.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.Category == CategoryRecordSkipped || !ee.MarkReported() {
		return
	}

	message := scrub(fmt.Sprintf("[%s] %s", ee.Category, ee.Error()))
	component := ee.GetComponent()
	title := eventTitle(ee)
	level := eventLevel(ee.Category)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))
		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrub(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}
		scope.SetLevel(level)
		scope.SetFingerprint([]string{title, component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})
}

// eventTitle names an event "<Component> <category> <operation>", for
// example "Vectorindex index-unavailable open".
func eventTitle(ee *EnhancedError) string {
	var parts []string
	if c := ee.GetComponent(); c != "" && c != ComponentUnknown {
		parts = append(parts, strings.ToUpper(c[:1])+c[1:])
	}
	if ee.Category != "" {
		parts = append(parts, string(ee.Category))
	}
	if op, ok := ee.Context["operation"].(string); ok && op != "" {
		parts = append(parts, op)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}
	return strings.Join(parts, " ")
}

func eventLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryEmbedding, CategoryNetwork, CategoryTimeout, CategoryDownload,
		CategorySourceFormat, CategoryFileIO:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

// PrivacyScrubber rewrites a message before it leaves the process
type PrivacyScrubber func(string) string

var scrubber atomic.Pointer[PrivacyScrubber]

// SetPrivacyScrubber replaces the built-in scrubber
func SetPrivacyScrubber(s PrivacyScrubber) {
	scrubber.Store(&s)
}

func scrub(message string) string {
	if p := scrubber.Load(); p != nil && *p != nil {
		return (*p)(message)
	}
	return fallbackScrub(message)
}

var (
	queryStringPattern = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	credentialPattern  = regexp.MustCompile(`(?i)(api[_-]?key|token|auth)[=:]\S+|bearer\s+\S+`)
)

// fallbackScrub drops URL query strings and obvious credentials
func fallbackScrub(message string) string {
	message = queryStringPattern.ReplaceAllString(message, "$1?[REDACTED]")
	return credentialPattern.ReplaceAllString(message, "[REDACTED]")
}

// Package errors is the error vocabulary of the pipeline and the query path.
// Errors are built with New(err)...Build() so they carry a component, a
// category and context, and every built error is offered to the registered
// hooks and to the telemetry reporter.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// ErrorCategory groups errors for exit codes, HTTP status mapping and metrics
type ErrorCategory string

// CategorizedError is implemented by errors that know their own category
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

const (
	CategoryGeneric       ErrorCategory = "generic"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryFileParsing   ErrorCategory = "file-parsing"
	CategoryNetwork       ErrorCategory = "network"
	CategoryDatabase      ErrorCategory = "database"
	CategoryState         ErrorCategory = "state"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryCancellation  ErrorCategory = "cancellation"

	CategorySourceFormat     ErrorCategory = "source-format"     // aborts one source
	CategoryRecordSkipped    ErrorCategory = "record-skipped"    // counted, never reported
	CategoryIndexUnavailable ErrorCategory = "index-unavailable" // index cannot be opened or written
	CategoryEmbedding        ErrorCategory = "embedding"         // retries exhausted
	CategoryDownload         ErrorCategory = "download"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

const modulePrefix = "github.com/tphakala/nutrigraph/"

// EnhancedError wraps an error with the component it came from, a category
// and free-form context.
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time

	component string
	reported  atomic.Bool
}

func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches another EnhancedError by category, so
// errors.Is(err, &EnhancedError{Category: c}) probes a whole chain.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return false
}

// GetComponent returns the component that built the error
func (ee *EnhancedError) GetComponent() string {
	return ee.component
}

// GetCategory returns the category as a plain string
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetContext returns a copy of the context map
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	return maps.Clone(ee.Context)
}

// MarkReported records that telemetry has seen this error. It returns false
// when the error had already been reported.
func (ee *EnhancedError) MarkReported() bool {
	return ee.reported.CompareAndSwap(false, true)
}

// ErrorBuilder assembles an EnhancedError
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts building an error around err
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts building an error from a format string
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component names the component. Unset, it is derived from the caller's
// package when anyone is listening.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the category. Unset, it is inherited from a wrapped
// categorized error or guessed from the message.
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds a key to the context map
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// FileContext records the shape of a path: whether it is absolute and its
// extension. The path itself is never stored.
func (eb *ErrorBuilder) FileContext(path string) *ErrorBuilder {
	if path == "" {
		return eb
	}
	kind := "relative-path"
	if filepath.IsAbs(path) {
		kind = "absolute-path"
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		ext = "none"
	}
	return eb.Context("file_type", kind).Context("file_extension", ext)
}

// Build creates the error and reports it
func (eb *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       eb.err,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
		component: eb.component,
	}

	if !reportingActive.Load() {
		// nobody is listening, skip the stack walk and message heuristics
		if ee.component == "" {
			ee.component = ComponentUnknown
		}
		if ee.Category == "" {
			ee.Category = inheritedCategory(eb.err)
		}
		return ee
	}

	if ee.component == "" {
		ee.component = callerComponent()
	}
	if ee.Category == "" {
		ee.Category = guessCategory(eb.err, ee.component)
	}
	report(ee)
	return ee
}

// callerComponent walks the stack to the first frame in this module outside
// this package and names it after its package: internal/vectorindex gives
// "vectorindex", internal/conf gives "configuration".
func callerComponent() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if component := componentOf(frame.Function); component != "" {
			return component
		}
		if !more {
			return ComponentUnknown
		}
	}
}

func componentOf(function string) string {
	rest, ok := strings.CutPrefix(function, modulePrefix)
	if !ok {
		return ""
	}
	rest = strings.TrimPrefix(rest, "internal/")
	if i := strings.IndexAny(rest, "/."); i > 0 {
		rest = rest[:i]
	}
	switch rest {
	case "errors":
		return ""
	case "conf":
		return "configuration"
	}
	return rest
}

// inheritedCategory returns the category carried by err's chain, or generic
func inheritedCategory(err error) ErrorCategory {
	var categorized CategorizedError
	if stderrors.As(err, &categorized) {
		return categorized.ErrorCategory()
	}
	var enhanced *EnhancedError
	if stderrors.As(err, &enhanced) && enhanced.Category != "" {
		return enhanced.Category
	}
	return CategoryGeneric
}

// guessCategory falls back to the message and then the component
func guessCategory(err error, component string) ErrorCategory {
	if category := inheritedCategory(err); category != CategoryGeneric || err == nil {
		return category
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		return CategoryTimeout
	case strings.Contains(msg, "context canceled"):
		return CategoryCancellation
	case strings.Contains(msg, "connection"):
		return CategoryNetwork
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return CategoryValidation
	}

	switch component {
	case "datastore":
		return CategoryDatabase
	case "vectorindex":
		return CategoryIndexUnavailable
	case "embedding":
		return CategoryEmbedding
	case "ingest":
		return CategoryFileParsing
	case "download":
		return CategoryDownload
	case "configuration":
		return CategoryConfiguration
	}
	return CategoryGeneric
}

// FileError wraps a filesystem failure on path
func FileError(err error, path string) *EnhancedError {
	return New(err).
		Category(CategoryFileIO).
		FileContext(path).
		Build()
}

// ValidationError creates a validation error from a message
func ValidationError(message string) *EnhancedError {
	return New(stderrors.New(message)).
		Category(CategoryValidation).
		Build()
}

// IsCategory reports whether any EnhancedError in err's chain has category
func IsCategory(err error, category ErrorCategory) bool {
	if err == nil {
		return false
	}
	return stderrors.Is(err, &EnhancedError{Category: category})
}

// Passthroughs so callers need only this package.

func NewStd(text string) error { return stderrors.New(text) }
func Is(err, target error) bool { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }
func Unwrap(err error) error { return stderrors.Unwrap(err) }
func Join(errs ...error) error { return stderrors.Join(errs...) }

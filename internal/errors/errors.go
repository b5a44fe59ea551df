// Package errors provides centralized error handling with optional telemetry integration
package errors

import (
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrorCategory represents the type of error for better categorization
type ErrorCategory string

const (
	CategoryNetwork       ErrorCategory = "network"
	CategoryStreamOpen    ErrorCategory = "stream-open"
	CategoryStreamParse   ErrorCategory = "stream-parse"
	CategoryFormat        ErrorCategory = "unsupported-format"
	CategoryBuffer        ErrorCategory = "audio-buffer"
	CategoryAudioOutput   ErrorCategory = "audio-output"
	CategoryCacheIO       ErrorCategory = "cache-io"
	CategorySeek          ErrorCategory = "seek"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryState         ErrorCategory = "state"
	CategoryGeneric       ErrorCategory = "generic"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

// EnhancedError wraps an error with additional context and metadata
type EnhancedError struct {
	Err       error          // Original error
	Component string         // Component where the error occurred
	Category  ErrorCategory  // Error category for better grouping
	Context   map[string]any // Additional context data
	Timestamp time.Time      // When the error occurred
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is implements error type checking. Two enhanced errors match when their
// categories match; otherwise matching falls through to the wrapped error.
func (ee *EnhancedError) Is(target error) bool {
	if ee2, ok := target.(*EnhancedError); ok {
		return ee.Category == ee2.Category
	}
	return Is(ee.Err, target)
}

// ErrorBuilder provides a fluent interface for creating enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New creates an ErrorBuilder wrapping the given error
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf creates an ErrorBuilder from a formatted message
func Newf(format string, args ...any) *ErrorBuilder {
	return &ErrorBuilder{err: fmt.Errorf(format, args...)}
}

// Component sets the component name
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds a key-value pair of context data
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Timing adds performance timing context
func (eb *ErrorBuilder) Timing(operation string, duration time.Duration) *ErrorBuilder {
	return eb.Context("operation", operation).Context("duration_ms", duration.Milliseconds())
}

// Build creates the EnhancedError and triggers optional telemetry reporting
func (eb *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       eb.err,
		Component: eb.component,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
	if ee.Component == "" {
		ee.Component = ComponentUnknown
	}
	if ee.Category == "" {
		ee.Category = CategoryGeneric
	}
	reportToTelemetry(ee)
	return ee
}

// TelemetryReporter receives enhanced errors for external reporting.
// Implementations must not block.
type TelemetryReporter interface {
	ReportError(ee *EnhancedError)
}

var (
	telemetryMu       sync.RWMutex
	telemetryReporter TelemetryReporter
	reportingActive   atomic.Bool
)

// SetTelemetryReporter installs the reporter invoked on every Build.
// Passing nil disables reporting.
func SetTelemetryReporter(r TelemetryReporter) {
	telemetryMu.Lock()
	defer telemetryMu.Unlock()
	telemetryReporter = r
	reportingActive.Store(r != nil)
}

func reportToTelemetry(ee *EnhancedError) {
	if !reportingActive.Load() {
		return
	}
	telemetryMu.RLock()
	r := telemetryReporter
	telemetryMu.RUnlock()
	if r != nil {
		r.ReportError(ee)
	}
}

// Standard library passthroughs so callers need a single errors import.

// Is reports whether any error in err's tree matches target
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join wraps a sequence of errors into a single error
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// NewStd creates a plain error without enhancement, identical to errors.New
func NewStd(text string) error {
	return stderrors.New(text)
}

package propublica

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures for tool callers. Kinds are stable wire
// strings surfaced in structured error payloads.
type ErrorKind string

const (
	// ErrorKindConfiguration marks invalid startup configuration. Fatal;
	// never returned for per-request failures.
	ErrorKindConfiguration ErrorKind = "configuration_error"
	// ErrorKindUpstreamUnavailable marks 5xx/429 responses that survived
	// retry exhaustion, and network-level failures.
	ErrorKindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	// ErrorKindUpstreamClient marks non-429 4xx responses. Never retried.
	ErrorKindUpstreamClient ErrorKind = "upstream_client_error"
	// ErrorKindValidation marks bad caller input. Message names the field.
	ErrorKindValidation ErrorKind = "validation_error"
)

// Error is the typed failure returned by the client and aggregation layers.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int    // upstream HTTP status when applicable
	Field      string // offending input field for validation failures
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// KindOf extracts the ErrorKind from err, or ErrorKindUpstreamUnavailable
// for untyped failures (network errors, context expiry while fetching).
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrorKindUpstreamUnavailable
}

func newValidationError(field, format string, a ...any) *Error {
	return &Error{
		Kind:    ErrorKindValidation,
		Message: fmt.Sprintf(format, a...),
		Field:   field,
	}
}

func newConfigError(format string, a ...any) *Error {
	return &Error{Kind: ErrorKindConfiguration, Message: fmt.Sprintf(format, a...)}
}

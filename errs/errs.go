// Package errs provides structured error types and helpers for replay services.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies an error category raised by the engine or its collaborators.
type Code string

const (
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNonMonotonic indicates a market event whose timestamp precedes the engine clock.
	CodeNonMonotonic Code = "non_monotonic_event"
	// CodeStaleOrder indicates an update referencing an order already in a terminal state.
	CodeStaleOrder Code = "stale_order"
	// CodeUnknownReference indicates an unknown exchange, asset, or instrument reference.
	CodeUnknownReference Code = "unknown_reference"
	// CodeMalformedBalance indicates a balance where free exceeds total or a value is negative.
	CodeMalformedBalance Code = "malformed_balance"
	// CodeUnavailable indicates a component is closed or temporarily unable to serve.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the replay stack.
type E struct {
	Scope       string
	Code        Code
	Message     string
	Remediation string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given scope and error code.
func New(scope string, code Code, opts ...Option) *E {
	e := &E{
		Scope:       strings.TrimSpace(scope),
		Code:        code,
		Message:     "",
		Remediation: "",
		cause:       nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithRemediation attaches remediation guidance to the error.
func WithRemediation(remediation string) Option {
	trimmed := strings.TrimSpace(remediation)
	return func(e *E) {
		e.Remediation = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	scope := strings.TrimSpace(e.Scope)
	if scope == "" {
		scope = "unknown"
	}
	parts = append(parts, "scope="+scope)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.Remediation != "" {
		parts = append(parts, "remediation="+strconv.Quote(e.Remediation))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the Code from err if it wraps an *E, or "" otherwise.
func CodeOf(err error) Code {
	var envelope *E
	if errors.As(err, &envelope) {
		return envelope.Code
	}
	return ""
}

// Is reports whether err carries the provided code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

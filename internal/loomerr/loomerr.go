// Package loomerr defines the platform's error taxonomy.
//
// Every error that crosses a component boundary is one of six kinds:
// [KindValidation], [KindAuthorization], [KindGovernance], [KindTransient],
// [KindCorruption], or [KindInternal]. Callers should use [errors.As] to
// recover a *[Error] and branch on its Kind rather than matching message
// strings. [Error.IsRetryable] reports whether the operation may be retried
// and, for transient errors, [Error.RetryAfterMs] suggests a backoff delay.
package loomerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the platform's boundary categories.
type Kind int

const (
	// KindValidation indicates malformed input: a missing field, an invalid
	// tenant ID, an out-of-range parameter. Never retryable.
	KindValidation Kind = iota

	// KindAuthorization indicates the caller is not permitted to perform the
	// requested action. Never retryable.
	KindAuthorization

	// KindGovernance indicates a knowledge governance policy blocked the
	// operation. Never retryable — the caller must change the content or
	// request an exception.
	KindGovernance

	// KindTransient indicates a retryable failure: a backend timeout, a
	// connection reset, a circuit breaker in the open state.
	KindTransient

	// KindCorruption indicates data that failed an integrity check (content
	// hash mismatch, malformed commit, orphaned pointer). Never retryable
	// without operator intervention.
	KindCorruption

	// KindInternal indicates an unexpected failure with no more specific
	// classification. Never retryable.
	KindInternal
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindGovernance:
		return "governance"
	case KindTransient:
		return "transient"
	case KindCorruption:
		return "corruption"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the platform's boundary error type. It carries a stable Code for
// machine handling, a human-readable Message, and retry metadata.
type Error struct {
	// Kind classifies the error for branching logic.
	Kind Kind

	// Code is a short, stable, machine-readable identifier (e.g.
	// "tenant_id_invalid", "governance_blocked", "vector_backend_timeout").
	// Codes must not change meaning once published.
	Code string

	// Message is a human-readable description safe to return to API callers.
	Message string

	// RetryAfterMs suggests a backoff delay in milliseconds. Only meaningful
	// when Kind is KindTransient.
	RetryAfterMs int

	// Err is the underlying cause, if any. Wrapped via Unwrap.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
}

// Unwrap returns the wrapped cause, supporting errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the caller may retry the operation that
// produced this error.
func (e *Error) IsRetryable() bool {
	return e.Kind == KindTransient
}

// New constructs an [Error] of the given kind with no wrapped cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap constructs an [Error] of the given kind wrapping cause.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

// Transient constructs a retryable [Error] with a suggested backoff delay.
func Transient(code, message string, retryAfterMs int, cause error) *Error {
	return &Error{Kind: KindTransient, Code: code, Message: message, RetryAfterMs: retryAfterMs, Err: cause}
}

// Validation constructs a [KindValidation] error.
func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

// Authorization constructs a [KindAuthorization] error.
func Authorization(code, message string) *Error {
	return New(KindAuthorization, code, message)
}

// Governance constructs a [KindGovernance] error.
func Governance(code, message string) *Error {
	return New(KindGovernance, code, message)
}

// Corruption constructs a [KindCorruption] error.
func Corruption(code, message string, cause error) *Error {
	return Wrap(KindCorruption, code, message, cause)
}

// Internal constructs a [KindInternal] error.
func Internal(code, message string, cause error) *Error {
	return Wrap(KindInternal, code, message, cause)
}

// As is a convenience wrapper around errors.As for recovering an *Error.
func As(err error) (*Error, bool) {
	var target *Error
	ok := errors.As(err, &target)
	return target, ok
}

// KindOf returns the Kind of err if it (or something it wraps) is an *Error,
// and KindInternal otherwise.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err (or something it wraps) is a retryable
// *Error.
func IsRetryable(err error) bool {
	e, ok := As(err)
	return ok && e.IsRetryable()
}

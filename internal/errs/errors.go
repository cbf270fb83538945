// Package errs defines the error taxonomy shared by the indexing and search
// services. Every failure that crosses a service boundary is an *Error with a
// Kind, so callers branch on kinds instead of matching strings.
package errs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure.
type Kind string

const (
	KindInvalidParameter          Kind = "InvalidParameter"
	KindVideoNotFound             Kind = "VideoNotFound"
	KindUnsupportedFormat         Kind = "UnsupportedFormat"
	KindEncodingFailed            Kind = "EncodingFailed"
	KindTimeout                   Kind = "Timeout"
	KindJobNotFound               Kind = "JobNotFound"
	KindNoVideosFound             Kind = "NoVideosFound"
	KindRateLimited               Kind = "RateLimited"
	KindInfrastructureUnavailable Kind = "InfrastructureUnavailable"
	KindCancelled                 Kind = "Cancelled"
	KindInternal                  Kind = "Internal"
)

// Retryable reports whether a failure of this kind may succeed on a later attempt.
func (k Kind) Retryable() bool {
	switch k {
	case KindEncodingFailed, KindTimeout, KindInfrastructureUnavailable:
		return true
	}
	return false
}

// Error is the structured error returned by the core services.
type Error struct {
	Kind    Kind
	Message string

	// Details carries machine-readable context (path, attempts, limits).
	Details map[string]string

	// RetryAfter is set for KindRateLimited.
	RetryAfter time.Duration

	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by kind, so errors.Is(err, errs.New(errs.KindTimeout, ""))
// works through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail adds a key-value detail and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Clone returns a copy of e with its own Details map.
func (e *Error) Clone() *Error {
	c := *e
	if e.Details != nil {
		c.Details = make(map[string]string, len(e.Details)+1)
		for k, v := range e.Details {
			c.Details[k] = v
		}
	}
	return &c
}

// WithDetail returns err with one more detail and never modifies err itself:
// errors from a coalesced computation are shared by every waiting caller.
// Errors without a *Error in their chain are returned unchanged.
func WithDetail(err error, key, value string) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	if err == error(e) {
		return e.Clone().WithDetail(key, value)
	}
	outer := e.Clone()
	outer.Cause = err
	return outer.WithDetail(key, value)
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error. A nil err yields nil.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// RateLimited creates a KindRateLimited error carrying the retry hint.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Message:    "too many requests",
		RetryAfter: retryAfter,
	}
}

// KindOf returns the kind of the first *Error in err's chain.
// Context cancellation maps to KindCancelled and deadline expiry to KindTimeout;
// anything else is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

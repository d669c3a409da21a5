// Package errs provides structured error types shared across the market maker.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies an error category in the outbound-call taxonomy.
type Code string

const (
	// CodeRateLimited indicates that the request exceeded venue rate limits.
	CodeRateLimited Code = "rate_limited"
	// CodeNetwork indicates a network transport failure or timeout.
	CodeNetwork Code = "network"
	// CodeInvalid indicates an order the venue rejected as malformed
	// (bad price or quantity, insufficient margin).
	CodeInvalid Code = "invalid_request"
	// CodeVenue indicates a venue-side failure (5xx-class).
	CodeVenue Code = "venue_error"
	// CodeNotFound indicates a missing order or resource.
	CodeNotFound Code = "not_found"
	// CodeUnavailable indicates a call rejected locally before reaching
	// the network, such as an open circuit breaker.
	CodeUnavailable Code = "unavailable"
	// CodeStale indicates out-of-order or duplicate feed data.
	CodeStale Code = "stale_data"
	// CodeCorrupt indicates internally inconsistent book state.
	CodeCorrupt Code = "corrupt_state"
)

// E captures structured error information produced across the stack.
type E struct {
	Venue   string
	Code    Code
	HTTP    int
	RawCode string
	RawMsg  string
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the venue and error code.
func New(venue string, code Code, opts ...Option) *E {
	e := &E{
		Venue: strings.TrimSpace(venue),
		Code:  code,
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

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the raw venue error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw venue error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
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

	venue := strings.TrimSpace(e.Venue)
	if venue == "" {
		venue = "unknown"
	}
	parts = append(parts, "venue="+venue)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the error code from err, or empty when err carries no envelope.
func CodeOf(err error) Code {
	var envelope *E
	if errors.As(err, &envelope) {
		return envelope.Code
	}
	return ""
}

// Retryable reports whether err names a transient condition worth retrying:
// rate limits, network failures, and venue-side 5xx errors. Rejections and
// locally gated calls are permanent for the current attempt.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeRateLimited, CodeNetwork, CodeVenue:
		return true
	default:
		return false
	}
}

package modeladapter

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Error kinds. Open failures match one of the first three, mid-stream faults
// match ErrStreamInterrupted. Test with errors.Is.
var (
	ErrServiceUnavailable   = errors.New("service unavailable")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRequestRejected      = errors.New("request rejected")
	ErrStreamInterrupted    = errors.New("stream interrupted")
)

// ServiceError describes a failed attempt to open a completion exchange.
// Kind is one of the open-time error kinds.
type ServiceError struct {
	Kind       error
	StatusCode int           // 0 when no HTTP response was received.
	Body       string        // Response body, possibly truncated.
	RetryAfter time.Duration // Parsed Retry-After, zero if absent.
	Err        error         // Underlying transport error, if any.
}

func (e *ServiceError) Error() string {
	msg := e.Kind.Error()
	if e.StatusCode != 0 {
		msg += " (status " + strconv.Itoa(e.StatusCode) + ")"
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ServiceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindForStatus maps an HTTP status code to an open-time error kind.
// It returns nil for 2xx codes.
func KindForStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrAuthenticationFailed
	case code == http.StatusRequestTimeout, code >= 500:
		return ErrServiceUnavailable
	default:
		return ErrRequestRejected
	}
}

// StatusError builds a ServiceError from a non-2xx response.
func StatusError(code int, body string, h http.Header) *ServiceError {
	e := &ServiceError{
		Kind:       KindForStatus(code),
		StatusCode: code,
		Body:       body,
	}
	if e.Kind == nil {
		e.Kind = ErrServiceUnavailable
	}
	if h != nil {
		e.RetryAfter = ParseRetryAfter(h.Get("Retry-After"))
	}
	return e
}

// Unavailable wraps a transport error that prevented any response.
func Unavailable(err error) *ServiceError {
	return &ServiceError{Kind: ErrServiceUnavailable, Err: err}
}

// Interrupted marks err as a mid-stream fault.
func Interrupted(err error) error {
	return fmt.Errorf("%w: %w", ErrStreamInterrupted, err)
}

// ParseRetryAfter parses the Retry-After header value as either seconds (integer)
// or an HTTP-date (RFC 7231). Returns zero if unparseable or if the date is in the past.
func ParseRetryAfter(val string) time.Duration {
	if val == "" {
		return 0
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(val); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for HTTP status and error-body mapping.
type Kind string

const (
	KindInvalidRequest      Kind = "invalid_request_error"
	KindUnauthorized        Kind = "authentication_error"
	KindRateLimited         Kind = "rate_limit_error"
	KindUpstreamUnavailable Kind = "upstream_error"
	KindUpstreamTimeout     Kind = "upstream_timeout"
	KindToolCallError       Kind = "tool_call_error"
	KindInternal            Kind = "internal_error"
)

// Error is the service error type carried across component boundaries.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status maps the error kind to an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// From extracts an *Error from err, defaulting to an internal error.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: KindInternal, Message: err.Error(), Err: err}
}

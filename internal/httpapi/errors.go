package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a pipeline failure and fixes its HTTP status.
type Kind int

const (
	KindInternal   Kind = iota // uncaught handler failure -> 500
	KindAuth                   // missing/invalid credential -> 401
	KindRateLimit              // policy limit exceeded -> 429
	KindValidation             // malformed request input -> 400
	KindUpstream               // dependent service unreachable/5xx -> 502/503
	KindTimeout                // upstream deadline exceeded -> 504
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindValidation:
		return "validation"
	case KindUpstream:
		return "upstream"
	case KindTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

// Error is the typed failure threaded through the pipeline. Fields carry
// context-specific values that belong in the JSON body next to the
// error string (e.g. limit/remaining/reset on a 429).
type Error struct {
	Kind    Kind
	Message string
	Status  int // optional override; 0 means the kind's default
	Fields  map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the status the error maps to.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusBadRequest
	case KindUpstream:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind and public message to an underlying cause.
// The cause is logged, never serialized to the client.
func WrapError(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// WithField returns e with an extra body field set.
func (e *Error) WithField(key string, val any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = val
	return e
}

// AsError classifies err into an *Error. Already-typed errors pass
// through; context deadline errors become timeouts; anything else is
// internal.
func AsError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(KindTimeout, err, "upstream request timed out")
	}
	return WrapError(KindInternal, err, "internal server error")
}

// ErrorResponse builds the uniform failure response for err. When dev is
// true the underlying cause for internal errors is included instead of
// the generic message.
func ErrorResponse(err *Error, dev bool) *Response {
	msg := err.Message
	if err.Kind == KindInternal {
		if dev && err.cause != nil {
			msg = err.cause.Error()
		} else if !dev {
			msg = "internal server error"
		}
	}

	body := map[string]any{
		"success": false,
		"error":   msg,
	}
	for k, v := range err.Fields {
		body[k] = v
	}
	return NewResponse(err.HTTPStatus(), body)
}

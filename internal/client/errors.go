package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/kjstillabower/forecast-alert-service/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-alert-service/internal/validation"
)

// ErrorKind is a stable label for error classification. Used for retry decisions
// and as the providerErrorsTotal metric label.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindProviderHTTP       ErrorKind = "provider_http"
	KindIncompleteResponse ErrorKind = "incomplete_response"
	KindTransientNetwork   ErrorKind = "transient_network"
	KindParsing            ErrorKind = "parsing"
	KindCircuitOpen        ErrorKind = "circuit_open"
	KindCanceled           ErrorKind = "canceled"
	KindUnknown            ErrorKind = "unknown"
)

// ProviderHTTPError is a non-2xx provider response. Never retried.
type ProviderHTTPError struct {
	Status     int
	StatusText string
}

func (e *ProviderHTTPError) Error() string {
	return fmt.Sprintf("API Error: %d %s", e.Status, e.StatusText)
}

// IncompleteResponseError is a 2xx response missing a required block. Never retried.
type IncompleteResponseError struct {
	Field string
}

func (e *IncompleteResponseError) Error() string {
	return "incomplete response: missing " + e.Field
}

// ParseError wraps a response body that is not valid JSON for the expected shape.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "parse response: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// TransientNetworkError marks a timeout or connection refusal. These are retried; once
// retries run out the error is returned as is and its message is that of the cause.
type TransientNetworkError struct {
	Reason string // "timeout" or "connection_refused"
	Err    error
}

func (e *TransientNetworkError) Error() string {
	return e.Err.Error()
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// KindOf classifies err by type and wrapped cause.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var (
		vErr  *validation.ValidationError
		hErr  *ProviderHTTPError
		iErr  *IncompleteResponseError
		tErr  *TransientNetworkError
		pErr  *ParseError
		syn   *json.SyntaxError
		typed *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &vErr):
		return KindValidation
	case errors.Is(err, circuitbreaker.ErrOpen):
		return KindCircuitOpen
	case errors.As(err, &hErr):
		return KindProviderHTTP
	case errors.As(err, &iErr):
		return KindIncompleteResponse
	case errors.As(err, &tErr):
		return KindTransientNetwork
	case errors.As(err, &pErr), errors.As(err, &syn), errors.As(err, &typed):
		return KindParsing
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case isTimeout(err), errors.Is(err, syscall.ECONNREFUSED):
		return KindTransientNetwork
	}
	return KindUnknown
}

// IsRetryable reports whether err may succeed on another attempt.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransientNetwork
}

// IsBreakerFailure reports whether err should count against the provider circuit:
// transient network errors and 5xx responses.
func IsBreakerFailure(err error) bool {
	var hErr *ProviderHTTPError
	if errors.As(err, &hErr) {
		return hErr.Status >= 500
	}
	return KindOf(err) == KindTransientNetwork
}

// classifyTransport wraps a transport-level error from an attempt. Errors caused by
// the caller's ctx are returned unchanged so they are not retried.
func classifyTransport(parent context.Context, err error) error {
	if parent.Err() != nil {
		return err
	}
	switch {
	case isTimeout(err):
		return &TransientNetworkError{Reason: "timeout", Err: err}
	case errors.Is(err, syscall.ECONNREFUSED):
		return &TransientNetworkError{Reason: "connection_refused", Err: err}
	}
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

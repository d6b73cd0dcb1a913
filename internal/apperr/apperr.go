// Package apperr defines the canonical error-kind taxonomy used across the
// serving core (§7), grounded on the teacher's proxy.ProxyError: a small
// struct carrying an HTTP status, a machine-readable code, and a message,
// rather than an ad-hoc collection of sentinel errors and status ints
// scattered across callers.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is the canonical error category. Every Error has exactly one Kind,
// and every Kind maps to exactly one HTTP status by default.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindForbidden       Kind = "forbidden"
	KindQuotaExceeded   Kind = "quota_exceeded"
	KindSSRF            Kind = "ssrf_rejected"
	KindBadRequest      Kind = "bad_request"
	KindConflict        Kind = "conflict"
	KindUpstreamTimeout Kind = "upstream_timeout"
	KindUpstreamFailure Kind = "upstream_failure"
	KindUnavailable     Kind = "unavailable"
	KindInternal        Kind = "internal"
)

var defaultStatus = map[Kind]int{
	KindNotFound:        http.StatusNotFound,
	KindForbidden:       http.StatusForbidden,
	KindQuotaExceeded:   http.StatusRequestEntityTooLarge,
	KindSSRF:            http.StatusBadRequest,
	KindBadRequest:      http.StatusBadRequest,
	KindConflict:        http.StatusConflict,
	KindUpstreamTimeout: http.StatusGatewayTimeout,
	KindUpstreamFailure: http.StatusBadGateway,
	KindUnavailable:     http.StatusServiceUnavailable,
	KindInternal:        http.StatusInternalServerError,
}

// Error is a structured, HTTP-status-bearing application error.
type Error struct {
	Kind       Kind
	Code       string // machine-readable code, e.g. "ALIAS_NOT_FOUND"
	Message    string // human-readable, safe to return to the client
	HTTPStatus int
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind with the kind's default HTTP
// status.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, HTTPStatus: defaultStatus[kind]}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, code, message string, cause error) *Error {
	e := New(kind, code, message)
	e.Cause = cause
	return e
}

// As extracts an *Error from err, if any, using errors.As.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus returns the HTTP status that should be written for err: the
// wrapped Error's status if present, otherwise 500.
func HTTPStatus(err error) int {
	if e, ok := As(err); ok {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}

// WriteHTTP writes a standardized error response: an X-Error-Code header
// and a plain-text body, grounded on the teacher's writeProxyError.
func WriteHTTP(w http.ResponseWriter, err error) {
	e, ok := As(err)
	if !ok {
		e = New(KindInternal, "INTERNAL_ERROR", "internal error")
	}
	w.Header().Set("X-Error-Code", e.Code)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(e.HTTPStatus)
	_, _ = w.Write([]byte(e.Message))
}

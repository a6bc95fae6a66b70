// Package apperr defines the coded errors surfaced by the hairstyle service.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error reason.
type Code string

const (
	NotFound       Code = "NOT_FOUND"       // 404
	InvalidRequest Code = "INVALID_REQUEST" // 400
	QuotaExceeded  Code = "QUOTA_EXCEEDED"  // 429
	RateLimited    Code = "RATE_LIMITED"    // 429
	UploadFailed   Code = "UPLOAD_FAILED"   // 502
	SubmitFailed   Code = "SUBMIT_FAILED"   // 502
	NotReady       Code = "NOT_READY"       // 502
	DownloadFailed Code = "DOWNLOAD_FAILED" // 502
	Unavailable    Code = "UPSTREAM_OPEN"   // 502, circuit breaker open
	Misconfigured  Code = "MISCONFIGURED"   // 500
	Internal       Code = "INTERNAL"        // 500
	UpstreamFailed Code = "UPSTREAM_FAILED" // client-facing class for provider stages
)

// Error is a coded error with the HTTP status it maps to.
type Error struct {
	Code    Code
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// PublicCode collapses provider-stage codes into the single upstream class
// that clients see.
func (e *Error) PublicCode() Code {
	if e.Upstream() {
		return UpstreamFailed
	}
	return e.Code
}

// Upstream reports whether the error came from a provider stage.
func (e *Error) Upstream() bool {
	switch e.Code {
	case UploadFailed, SubmitFailed, NotReady, DownloadFailed, Unavailable:
		return true
	}
	return false
}

func newError(code Code, status int, msg string, err error) *Error {
	return &Error{Code: code, Status: status, Message: msg, Err: err}
}

// NewNotFound creates a 404 error for a missing session, preset, prompt or photo.
func NewNotFound(what, identifier string) *Error {
	return newError(NotFound, http.StatusNotFound, fmt.Sprintf("%s not found: %s", what, identifier), nil)
}

func NewInvalidRequest(msg string) *Error {
	return newError(InvalidRequest, http.StatusBadRequest, msg, nil)
}

// NewQuotaExceeded creates a 429 error when a session ledger is full.
func NewQuotaExceeded(quota int) *Error {
	return newError(QuotaExceeded, http.StatusTooManyRequests, fmt.Sprintf("session already generated %d hairstyles", quota), nil)
}

func NewRateLimited(msg string) *Error {
	return newError(RateLimited, http.StatusTooManyRequests, msg, nil)
}

func NewUploadFailed(msg string, err error) *Error {
	return newError(UploadFailed, http.StatusBadGateway, msg, err)
}

func NewSubmitFailed(msg string, err error) *Error {
	return newError(SubmitFailed, http.StatusBadGateway, msg, err)
}

func NewNotReady(msg string) *Error {
	return newError(NotReady, http.StatusBadGateway, msg, nil)
}

func NewDownloadFailed(msg string, err error) *Error {
	return newError(DownloadFailed, http.StatusBadGateway, msg, err)
}

func NewUnavailable(provider string, err error) *Error {
	return newError(Unavailable, http.StatusBadGateway, fmt.Sprintf("provider %s temporarily unavailable", provider), err)
}

// NewMisconfigured creates a 500 error for a missing credential or setting.
func NewMisconfigured(msg string) *Error {
	return newError(Misconfigured, http.StatusInternalServerError, msg, nil)
}

// NewInternal wraps an unexpected error.
func NewInternal(err error) *Error {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return newError(Internal, http.StatusInternalServerError, msg, err)
}

// Is reports whether err is, or wraps, an *Error with the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// From returns err as an *Error, wrapping unknown errors as Internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewInternal(err)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// ErrorType classifies client errors. Every error surfaced to the UI maps to
// exactly one type; the coordinator chooses presentation (inline banner,
// toast, forced logout) from the type alone.
type ErrorType int

const (
	// ErrorTypeNetwork - connection refused, DNS failure, offline.
	ErrorTypeNetwork ErrorType = iota
	// ErrorTypeAuth - 401/403 from REST, or a stream closed immediately
	// after open. Short-circuits to logout.
	ErrorTypeAuth
	// ErrorTypeNotFound - 404.
	ErrorTypeNotFound
	// ErrorTypeValidation - 400/422, empty title, empty content.
	ErrorTypeValidation
	// ErrorTypeServer - 5xx.
	ErrorTypeServer
	// ErrorTypeTransport - non-graceful stream close.
	ErrorTypeTransport
	// ErrorTypeStream - server-signalled error frame mid-stream.
	ErrorTypeStream
	// ErrorTypeBusy - a send was attempted while a stream is active.
	ErrorTypeBusy
	// ErrorTypeParse - malformed stream frame.
	ErrorTypeParse
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeServer:
		return "server"
	case ErrorTypeTransport:
		return "transport"
	case ErrorTypeStream:
		return "stream"
	case ErrorTypeBusy:
		return "busy"
	case ErrorTypeParse:
		return "parse"
	default:
		return "unknown"
	}
}

// ClientError is a typed error carrying a user-presentable message and the
// underlying cause.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	return e.Cause
}

// NewError creates a ClientError of the given type.
func NewError(t ErrorType, message string, cause error) *ClientError {
	return &ClientError{Type: t, Message: message, Cause: cause}
}

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrAuthFailed indicates the bearer token was rejected or has expired.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")
)

// RateLimitError carries the server's requested retry delay.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	return "rate limited"
}

// Is allows RateLimitError to be compared with ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// parseRetryAfter reads a Retry-After header as either seconds or a date.
func parseRetryAfter(resp *http.Response) error {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return ErrRateLimited
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return &RateLimitError{RetryAfter: time.Duration(seconds) * time.Second}
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		return &RateLimitError{RetryAfter: time.Until(t)}
	}
	return ErrRateLimited
}

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// TypeOf returns the ErrorType of err, or ErrorTypeNetwork for untyped
// errors (the only untyped errors escaping this package are transport-level).
func TypeOf(err error) ErrorType {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ErrorTypeNetwork
}

// IsAuth reports whether err is an authentication error.
func IsAuth(err error) bool {
	return TypeOf(err) == ErrorTypeAuth || errors.Is(err, ErrAuthFailed)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return TypeOf(err) == ErrorTypeNotFound
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return TypeOf(err) == ErrorTypeValidation
}

// IsBusy reports whether err is a single-stream violation.
func IsBusy(err error) bool {
	return TypeOf(err) == ErrorTypeBusy
}

// UserMessage returns a short message suitable for a toast or banner.
func UserMessage(err error) string {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return err.Error()
}

package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common error conditions.
var (
	// ErrInvalidInput indicates that the caller's query or pagination is out
	// of bounds. Rejected immediately, never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited indicates that an upstream API rate limited the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrUpstreamUnavailable indicates the search API could not be reached
	// after all retry attempts were exhausted.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrNotAvailable indicates that a requested artifact (e.g. an open-access
	// PDF) does not exist for the given identifier. Expected, not retried.
	ErrNotAvailable = errors.New("not available")

	// ErrCacheMiss indicates the request cache has no live entry for a
	// fingerprint. A miss is the normal path, never fatal.
	ErrCacheMiss = errors.New("cache miss")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// RateLimitError provides details about an upstream 429 response.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s: retry after %s", e.Source, e.RetryAfter)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// UpstreamError is a permanent error from an external API (4xx other than
// 429, or malformed payloads). It is surfaced to the caller without retry.
type UpstreamError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// TransientError marks an error as retryable (timeout, connection failure,
// 5xx). The retry controller keeps attempting until the policy is exhausted.
type TransientError struct {
	Source string
	Cause  error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("%s transient error: %v", e.Source, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *TransientError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether err should be retried: transient upstream
// failures and rate limiting qualify, everything else does not.
func IsRetryable(err error) bool {
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	return errors.Is(err, ErrRateLimited)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(source string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Source: source, RetryAfter: retryAfter}
}

// NewUpstreamError creates a new UpstreamError.
func NewUpstreamError(source string, statusCode int, message string, cause error) *UpstreamError {
	return &UpstreamError{Source: source, StatusCode: statusCode, Message: message, Cause: cause}
}

// NewTransientError wraps cause as retryable.
func NewTransientError(source string, cause error) *TransientError {
	return &TransientError{Source: source, Cause: cause}
}

// ABOUTME: Error hierarchy for the content-generation layer shared by all backends.
// ABOUTME: Maps HTTP status codes to typed errors and exposes the retryability and quota/auth checks the agent loop keys on.

package genai

import (
	"encoding/json"
	"errors"
	"fmt"
)

// APIError is the base error type for the generation layer. All other error
// types embed it directly or transitively.
type APIError struct {
	Message string
	Cause   error
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns false for the base APIError. Subtypes override this.
func (e *APIError) IsRetryable() bool {
	return false
}

// BackendError is an error returned by an upstream model API. It preserves
// the numeric status so quota-fallback logic can key on it.
type BackendError struct {
	APIError
	Backend    string
	StatusCode int
	ErrorCode  string
	Retryable  bool
	RetryAfter *float64
	Raw        json.RawMessage
}

func (e *BackendError) Error() string { return e.APIError.Error() }
func (e *BackendError) Unwrap() error { return e.APIError.Unwrap() }

// IsRetryable returns the Retryable flag set on the backend error.
func (e *BackendError) IsRetryable() bool { return e.Retryable }

// As enables errors.As to match the embedded APIError.
func (e *BackendError) As(target any) bool {
	if t, ok := target.(**APIError); ok {
		*t = &e.APIError
		return true
	}
	return false
}

// backendAs is the shared As implementation for BackendError subtypes.
func backendAs(e *BackendError, target any) bool {
	switch t := target.(type) {
	case **BackendError:
		*t = e
		return true
	case **APIError:
		*t = &e.APIError
		return true
	default:
		return false
	}
}

// AuthenticationError represents a 401 Unauthorized response. It is never
// retried; the orchestrator re-raises it so the caller can refresh auth.
type AuthenticationError struct {
	BackendError
}

func (e *AuthenticationError) Error() string       { return e.BackendError.Error() }
func (e *AuthenticationError) Unwrap() error       { return e.BackendError.Unwrap() }
func (e *AuthenticationError) IsRetryable() bool   { return false }
func (e *AuthenticationError) As(target any) bool  { return backendAs(&e.BackendError, target) }

// AccessDeniedError represents a 403 Forbidden response. Not retryable.
type AccessDeniedError struct {
	BackendError
}

func (e *AccessDeniedError) Error() string      { return e.BackendError.Error() }
func (e *AccessDeniedError) Unwrap() error      { return e.BackendError.Unwrap() }
func (e *AccessDeniedError) IsRetryable() bool  { return false }
func (e *AccessDeniedError) As(target any) bool { return backendAs(&e.BackendError, target) }

// NotFoundError represents a 404 Not Found response. Not retryable.
type NotFoundError struct {
	BackendError
}

func (e *NotFoundError) Error() string      { return e.BackendError.Error() }
func (e *NotFoundError) Unwrap() error      { return e.BackendError.Unwrap() }
func (e *NotFoundError) IsRetryable() bool  { return false }
func (e *NotFoundError) As(target any) bool { return backendAs(&e.BackendError, target) }

// InvalidRequestError represents a 400 or 422 response. Not retryable.
type InvalidRequestError struct {
	BackendError
}

func (e *InvalidRequestError) Error() string      { return e.BackendError.Error() }
func (e *InvalidRequestError) Unwrap() error      { return e.BackendError.Unwrap() }
func (e *InvalidRequestError) IsRetryable() bool  { return false }
func (e *InvalidRequestError) As(target any) bool { return backendAs(&e.BackendError, target) }

// RateLimitError represents a 429 Too Many Requests response. Retryable,
// but it also flips the session quota flag so the loop stops issuing
// continuations after the model has been switched to a fallback.
type RateLimitError struct {
	BackendError
}

func (e *RateLimitError) Error() string      { return e.BackendError.Error() }
func (e *RateLimitError) Unwrap() error      { return e.BackendError.Unwrap() }
func (e *RateLimitError) IsRetryable() bool  { return true }
func (e *RateLimitError) As(target any) bool { return backendAs(&e.BackendError, target) }

// QuotaExceededError represents a hard quota exhaustion. Not retryable.
type QuotaExceededError struct {
	BackendError
}

func (e *QuotaExceededError) Error() string      { return e.BackendError.Error() }
func (e *QuotaExceededError) Unwrap() error      { return e.BackendError.Unwrap() }
func (e *QuotaExceededError) IsRetryable() bool  { return false }
func (e *QuotaExceededError) As(target any) bool { return backendAs(&e.BackendError, target) }

// ContextLengthError represents a 413 payload/context too large response. Not retryable.
type ContextLengthError struct {
	BackendError
}

func (e *ContextLengthError) Error() string      { return e.BackendError.Error() }
func (e *ContextLengthError) Unwrap() error      { return e.BackendError.Unwrap() }
func (e *ContextLengthError) IsRetryable() bool  { return false }
func (e *ContextLengthError) As(target any) bool { return backendAs(&e.BackendError, target) }

// ServerError represents a 5xx response. Retryable.
type ServerError struct {
	BackendError
}

func (e *ServerError) Error() string      { return e.BackendError.Error() }
func (e *ServerError) Unwrap() error      { return e.BackendError.Unwrap() }
func (e *ServerError) IsRetryable() bool  { return true }
func (e *ServerError) As(target any) bool { return backendAs(&e.BackendError, target) }

// RequestTimeoutError represents a 408 or client-side timeout. Retryable.
type RequestTimeoutError struct {
	APIError
}

func (e *RequestTimeoutError) Error() string     { return e.APIError.Error() }
func (e *RequestTimeoutError) Unwrap() error     { return e.APIError.Unwrap() }
func (e *RequestTimeoutError) IsRetryable() bool { return true }

// AbortError represents an intentionally cancelled operation. Not retryable.
type AbortError struct {
	APIError
}

func (e *AbortError) Error() string     { return e.APIError.Error() }
func (e *AbortError) Unwrap() error     { return e.APIError.Unwrap() }
func (e *AbortError) IsRetryable() bool { return false }

// NetworkError represents a network-level failure (DNS, connection refused). Retryable.
type NetworkError struct {
	APIError
}

func (e *NetworkError) Error() string     { return e.APIError.Error() }
func (e *NetworkError) Unwrap() error     { return e.APIError.Unwrap() }
func (e *NetworkError) IsRetryable() bool { return true }

// StreamError represents a failure while consuming a response stream. Retryable.
type StreamError struct {
	APIError
}

func (e *StreamError) Error() string     { return e.APIError.Error() }
func (e *StreamError) Unwrap() error     { return e.APIError.Unwrap() }
func (e *StreamError) IsRetryable() bool { return true }

// ConfigurationError represents a setup problem (missing API key, bad auth type). Not retryable.
type ConfigurationError struct {
	APIError
}

func (e *ConfigurationError) Error() string     { return e.APIError.Error() }
func (e *ConfigurationError) Unwrap() error     { return e.APIError.Unwrap() }
func (e *ConfigurationError) IsRetryable() bool { return false }

// ErrEmbeddingUnsupported is returned by backends that cannot embed.
var ErrEmbeddingUnsupported = errors.New("embedding is not supported by this backend")

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
// Unknown status codes return a BackendError with Retryable=true as a
// conservative default.
func ErrorFromStatusCode(statusCode int, message, backend, errorCode string, raw json.RawMessage, retryAfter *float64) error {
	base := BackendError{
		APIError:   APIError{Message: message},
		Backend:    backend,
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Raw:        raw,
		RetryAfter: retryAfter,
	}

	switch {
	case statusCode == 400:
		return &InvalidRequestError{BackendError: base}
	case statusCode == 401:
		return &AuthenticationError{BackendError: base}
	case statusCode == 403:
		return &AccessDeniedError{BackendError: base}
	case statusCode == 404:
		return &NotFoundError{BackendError: base}
	case statusCode == 408:
		return &RequestTimeoutError{APIError: APIError{Message: message}}
	case statusCode == 413:
		return &ContextLengthError{BackendError: base}
	case statusCode == 422:
		return &InvalidRequestError{BackendError: base}
	case statusCode == 429:
		base.Retryable = true
		return &RateLimitError{BackendError: base}
	case statusCode >= 500 && statusCode <= 599:
		base.Retryable = true
		return &ServerError{BackendError: base}
	default:
		base.Retryable = true
		return &base
	}
}

// IsAuthError reports whether err is an authentication failure that should
// bubble out of the agent loop to trigger an auth refresh.
func IsAuthError(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}

// IsQuotaError reports whether err indicates quota or rate exhaustion.
func IsQuotaError(err error) bool {
	var rl *RateLimitError
	var q *QuotaExceededError
	return errors.As(err, &rl) || errors.As(err, &q)
}

// StatusOf returns the HTTP status carried by err, or 0 when none is.
func StatusOf(err error) int {
	var be *BackendError
	if errors.As(err, &be) {
		return be.StatusCode
	}
	return 0
}

// FormatAPIError renders a backend failure for display, folding in the
// active model and the fallback model when quota was the cause.
func FormatAPIError(err error, model, fallbackModel string) string {
	if err == nil {
		return ""
	}
	if status := StatusOf(err); status != 0 {
		if IsQuotaError(err) && fallbackModel != "" && fallbackModel != model {
			return fmt.Sprintf("[API Error: %v (status %d)] Quota exhausted for %s; switching to %s for the rest of the session.",
				err, status, model, fallbackModel)
		}
		return fmt.Sprintf("[API Error: %v (status %d)]", err, status)
	}
	return fmt.Sprintf("[API Error: %v]", err)
}

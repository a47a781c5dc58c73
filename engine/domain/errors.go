package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Every error surfaced by this module wraps one of these.
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrProvider       = errors.New("provider error")
	ErrRateLimited    = errors.New("rate limited")
	ErrConfigConflict = errors.New("config conflict")
	ErrExtraction     = errors.New("extraction failed")
	ErrSessionFault   = errors.New("session fault")
	ErrNotFound       = errors.New("not found")
)

// ValidationError wraps ErrInvalidInput with the offending field.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// Is lets errors.Is(err, ErrInvalidInput) match every validation failure.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// ProviderError is a failed call to an external provider.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is maps 429 to ErrRateLimited, 400/422 to ErrInvalidInput and the rest to ErrProvider.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	case ErrInvalidInput:
		return e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity
	case ErrProvider:
		return e.Status != http.StatusTooManyRequests
	}
	return false
}

// NewProviderError builds a ProviderError from an HTTP status and body.
func NewProviderError(provider string, status int, body string) *ProviderError {
	if len(body) > 512 {
		body = body[:512]
	}
	return &ProviderError{Provider: provider, Status: status, Message: body}
}

// WrapProvider wraps a transport failure as a ProviderError.
func WrapProvider(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

// Retryable reports whether err is a transient provider failure: throttling,
// a 5xx, or a transport error.
func Retryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Status == 0 || pe.Status >= 500
	}
	return false
}

// HTTPStatus maps an error to the status code the HTTP layer should return.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrExtraction):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConfigConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

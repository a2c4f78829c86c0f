package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMissingCredential is returned when the text-generation service has no API key.
// It fails a batch before any row is processed.
var ErrMissingCredential = errors.New("text-generation API key is not configured")

// ErrNoVariants is returned when an uploaded file contains no variant rows
var ErrNoVariants = errors.New("no variants found in input")

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeMissingCredential = "MISSING_CREDENTIAL"
	ErrCodeInternalServer    = "INTERNAL_SERVER_ERROR"
	ErrCodeCancelled         = "CANCELLED"
)

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// SchemaError reports a tabular source that lacks required columns or structure
type SchemaError struct {
	Source  string   `json:"source"`
	Missing []string `json:"missing,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// Error implements the error interface
func (e *SchemaError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("schema error in %s: missing columns %s", e.Source, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("schema error in %s: %s", e.Source, e.Reason)
}

// UpstreamError reports a network, status or decode failure from an external service
type UpstreamError struct {
	Service string
	Cause   error
}

// Error implements the error interface
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Cause)
}

// Unwrap returns the underlying cause
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// NewUpstreamError wraps cause as an UpstreamError for service
func NewUpstreamError(service string, cause error) *UpstreamError {
	return &UpstreamError{Service: service, Cause: cause}
}

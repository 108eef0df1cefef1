package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies an error for propagation policy and HTTP mapping.
type ErrorType string

const (
	// Registry errors are fatal at boot; the process refuses to start.
	ErrorTypeRegistry ErrorType = "REGISTRY"

	// Request-rejecting errors, reported before any transaction is opened.
	ErrorTypeValidation ErrorType = "VALIDATION"
	ErrorTypeURN        ErrorType = "URN"

	// Store errors.
	ErrorTypeStoreConflict    ErrorType = "STORE_CONFLICT"
	ErrorTypeStoreUnavailable ErrorType = "STORE_UNAVAILABLE"

	// Rule evaluation errors roll back the surrounding transaction.
	ErrorTypeRuleEvaluation ErrorType = "RULE_EVALUATION"

	ErrorTypeNotFound            ErrorType = "NOT_FOUND"
	ErrorTypeDependencyViolation ErrorType = "DEPENDENCY_VIOLATION"

	ErrorTypeInternal ErrorType = "INTERNAL"
	ErrorTypeTimeout  ErrorType = "TIMEOUT"
)

// AppError is the application error carried across layers. Every user-visible
// error has a type, a message, and enough detail (offending field or URN,
// correlation id) to cross-reference logs.
type AppError struct {
	Type          ErrorType              `json:"type"`
	Message       string                 `json:"message"`
	Code          string                 `json:"code,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Transient     bool                   `json:"transient,omitempty"`
	Cause         error                  `json:"-"`
	HTTPStatus    int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithDetail adds a single error detail
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// WithCorrelationID stamps the request correlation id onto the error
func (e *AppError) WithCorrelationID(id string) *AppError {
	e.CorrelationID = id
	return e
}

// Constructor functions for the error taxonomy

// NewRegistryError creates a registry loading/validation error
func NewRegistryError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeRegistry,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewURNError creates a URN construction error
func NewURNError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeURN,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewStoreConflictError creates a retryable store conflict error
func NewStoreConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeStoreConflict,
		Message:    message,
		Transient:  true,
		HTTPStatus: http.StatusConflict,
	}
}

// NewStoreUnavailableError creates a transient store availability error
func NewStoreUnavailableError(message string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeStoreUnavailable,
		Message:    message,
		Cause:      err,
		Transient:  true,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// NewRuleEvaluationError creates a rule evaluation error
func NewRuleEvaluationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeRuleEvaluation,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
	}
}

// NewDependencyViolationError creates a dependency violation error
func NewDependencyViolationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeDependencyViolation,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(operation string) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Message:    fmt.Sprintf("operation '%s' timed out", operation),
		Transient:  true,
		HTTPStatus: http.StatusRequestTimeout,
	}
}

// Helper functions

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsConflict checks if an error is a store conflict error
func IsConflict(err error) bool {
	return IsType(err, ErrorTypeStoreConflict)
}

// IsTransient reports whether the error may succeed on retry
func IsTransient(err error) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Transient
}

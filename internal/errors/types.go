// Package errors defines the structured error type shared by the sowing
// server, the editor core and the CLI.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeInternal   ErrorType = "internal"
)

// SowingError is a structured error type with context.
type SowingError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *SowingError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *SowingError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison on type and code.
func (e *SowingError) Is(target error) bool {
	var t *SowingError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *SowingError) WithContext(key string, value interface{}) *SowingError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *SowingError {
	return &SowingError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewNetworkError creates a network error. Network errors are recoverable:
// the next user action issues a fresh request.
func NewNetworkError(code, message string, cause error) *SowingError {
	return &SowingError{
		Type:        ErrorTypeNetwork,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *SowingError {
	return &SowingError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *SowingError {
	return &SowingError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(code, message string) *SowingError {
	return &SowingError{
		Type:        ErrorTypeNotFound,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewConflictError reports that a resource already exists.
func NewConflictError(code, message string) *SowingError {
	return &SowingError{
		Type:        ErrorTypeConflict,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewAuthError reports rejected credentials. The cause is kept for logs
// and never shown to the client.
func NewAuthError(code, message string, cause error) *SowingError {
	return &SowingError{
		Type:        ErrorTypeAuth,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *SowingError {
	return &SowingError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var se *SowingError
	if errors.As(err, &se) {
		return se.Recoverable
	}

	return false
}

// IsNetworkError checks if an error is network-related.
func IsNetworkError(err error) bool {
	return hasType(err, ErrorTypeNetwork)
}

// IsNotFound checks if an error reports a missing resource.
func IsNotFound(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsConflict checks if an error reports an existing resource.
func IsConflict(err error) bool {
	return hasType(err, ErrorTypeConflict)
}

// IsAuthError checks if an error reports rejected credentials.
func IsAuthError(err error) bool {
	return hasType(err, ErrorTypeAuth)
}

func hasType(err error, t ErrorType) bool {
	var se *SowingError
	if errors.As(err, &se) {
		return se.Type == t
	}

	return false
}

// Common error codes.
const (
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeInvalidPage      = "ERR_INVALID_PAGE"
	ErrCodePageNotFound     = "ERR_PAGE_NOT_FOUND"
	ErrCodeRevisionNotFound = "ERR_REVISION_NOT_FOUND"
	ErrCodePreviewServer    = "ERR_PREVIEW_SERVER"
	ErrCodePreviewTransport = "ERR_PREVIEW_TRANSPORT"
	ErrCodeUploadServer     = "ERR_UPLOAD_SERVER"
	ErrCodeUploadTransport  = "ERR_UPLOAD_TRANSPORT"
	ErrCodeSubmitFailed     = "ERR_SUBMIT_FAILED"
	ErrCodeHostPageInvalid  = "ERR_HOST_PAGE_INVALID"
	ErrCodeStorageFailed    = "ERR_STORAGE"
	ErrCodeRenderFailed     = "ERR_RENDER"
	ErrCodeInternalError    = "ERR_INTERNAL"
	ErrCodeValidationFailed = "ERR_VALIDATION_FAILED"
	ErrCodeAlreadyExists    = "ERR_ALREADY_EXISTS"
	ErrCodeUserNotFound     = "ERR_USER_NOT_FOUND"
	ErrCodeAuthFailed       = "ERR_AUTH_FAILED"
)

// ErrPageNotFound creates a page not found error.
func ErrPageNotFound(silo, path string) *SowingError {
	return NewNotFoundError(ErrCodePageNotFound, "page not found: "+silo+"/"+path).
		WithContext("silo", silo).
		WithContext("path", path)
}

// ErrInvalidPage creates a page reference validation error.
func ErrInvalidPage(ref string) *SowingError {
	return NewValidationError(ErrCodeInvalidPage, "invalid page reference: "+ref)
}

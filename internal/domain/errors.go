package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AppError represents a build engine error with structured information and enhanced context
type AppError struct {
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	Cause      error     `json:"-"` // Original error, not serialized
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error wrapping
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *AppError) WithContext(ctx context.Context, operation string) *AppError {
	if requestID := ctx.Value("request_id"); requestID != nil {
		if id, ok := requestID.(string); ok {
			e.RequestID = id
		}
	}
	e.Operation = operation
	return e
}

// Error codes for different error categories
const (
	ErrInvalidInput     = "INVALID_INPUT"     // 400 Bad Request
	ErrValidationFailed = "VALIDATION_FAILED" // 422 Unprocessable Entity
	ErrNotFound         = "NOT_FOUND"         // 404 Not Found
	ErrInternal         = "INTERNAL_ERROR"    // 500 Internal Server Error
	ErrTooLarge         = "PAYLOAD_TOO_LARGE" // 413 Payload Too Large
	ErrRateLimit        = "RATE_LIMIT"        // 429 Too Many Requests
	ErrRepoUnavailable  = "REPO_UNAVAILABLE"  // 503 Repository unavailable

	// Build engine error codes
	ErrUnknownVersion         = "UNKNOWN_VERSION"          // 422 Version id missing from the registry
	ErrMergeTypeMismatch      = "MERGE_TYPE_MISMATCH"      // 422 Leaf merged against a Tree
	ErrUnexpectedContentShape = "UNEXPECTED_CONTENT_SHAPE" // 502 Source answered with neither listing nor file
	ErrMissingRequiredModule  = "MISSING_REQUIRED_MODULE"  // 422 Base module could not be fetched
	ErrInvalidConfig          = "INVALID_CONFIG"           // 422 Pack configuration unusable
	ErrTranslateFailed        = "TRANSLATE_FAILED"         // 422 Content could not be rewritten
	ErrEmitFailed             = "EMIT_FAILED"              // 500 Archive could not be written
	ErrModuleConflict         = "MODULE_CONFLICT"          // 409 Selected modules break each other
)

// NewAppError creates a new AppError with the specified parameters
func NewAppError(code, message string, statusCode int, details any) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Details:    details,
		Timestamp:  time.Now(),
	}
}

// NewAppErrorWithCause creates a new AppError with underlying cause
func NewAppErrorWithCause(code, message string, statusCode int, cause error, details any) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Details:    details,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

// UnknownVersion reports a version id that is absent from the registry.
func UnknownVersion(id string) *AppError {
	return NewAppError(ErrUnknownVersion, fmt.Sprintf("unknown version %q", id), http.StatusUnprocessableEntity, map[string]string{"version": id})
}

// MergeTypeMismatch reports an attempt to merge a leaf against a tree.
func MergeTypeMismatch(path string) *AppError {
	return NewAppError(ErrMergeTypeMismatch, fmt.Sprintf("cannot merge file and folder at %q", path), http.StatusUnprocessableEntity, map[string]string{"path": path})
}

// UnexpectedContentShape reports a source response that is neither a listing nor a file.
func UnexpectedContentShape(path string) *AppError {
	return NewAppError(ErrUnexpectedContentShape, fmt.Sprintf("content at %q is neither a directory nor a file", path), http.StatusBadGateway, map[string]string{"path": path})
}

// AsAppError extracts the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode checks whether any AppError in err's chain carries code
func HasCode(err error, code string) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return HasCode(err, ErrNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return HasCode(err, ErrValidationFailed)
}

func IsUnknownVersion(err error) bool {
	return HasCode(err, ErrUnknownVersion)
}

func IsMergeTypeMismatch(err error) bool {
	return HasCode(err, ErrMergeTypeMismatch)
}

func IsUnexpectedContentShape(err error) bool {
	return HasCode(err, ErrUnexpectedContentShape)
}

func IsMissingRequiredModule(err error) bool {
	return HasCode(err, ErrMissingRequiredModule)
}

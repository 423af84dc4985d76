// Package errors provides structured error types for the ETL pipeline.
// All errors include a category, code, message, and retryable flag so that
// the orchestrator and the CLI can report failures consistently.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline stage.
type ErrorCategory string

const (
	ErrCategoryConfig   ErrorCategory = "CONFIG"
	ErrCategoryStorage  ErrorCategory = "STORAGE"
	ErrCategorySchema   ErrorCategory = "SCHEMA"
	ErrCategoryEngine   ErrorCategory = "ENGINE"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Config codes
	CodeMissingFile   = "MISSING_FILE"
	CodeMissingKey    = "MISSING_KEY"
	CodeInvalidConfig = "INVALID_CONFIG"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeListFailed     = "LIST_FAILED"
	CodeDeleteFailed   = "DELETE_FAILED"
	CodeNoInput        = "NO_INPUT"

	// Schema codes
	CodeMalformedInput = "MALFORMED_INPUT"
	CodeMissingColumn  = "MISSING_COLUMN"

	// Engine codes
	CodeSessionFailed = "SESSION_FAILED"
	CodeQueryFailed   = "QUERY_FAILED"
	CodeWriteFailed   = "WRITE_FAILED"
	CodeVerifyFailed  = "VERIFY_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// PipelineError is the structured error type used throughout the pipeline.
type PipelineError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new PipelineError.
func New(category ErrorCategory, code, message string) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new PipelineError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *PipelineError) WithDetails(details map[string]interface{}) *PipelineError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
// The pipeline itself never retries; the flag is informational for callers
// that schedule whole-job reruns.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCategory(err error) ErrorCategory {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCode(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

func isRetryable(category ErrorCategory, code string) bool {
	if category != ErrCategoryStorage {
		return false
	}
	switch code {
	case CodeUploadFailed, CodeDownloadFailed, CodeListFailed, CodeDeleteFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewConfigError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryConfig, code, message, cause)
}

func NewStorageError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewSchemaError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategorySchema, code, message, cause)
}

func NewEngineError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryEngine, code, message, cause)
}

func NewInternalError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

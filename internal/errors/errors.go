// Package errors provides structured error types for the benchmark harness.
// All errors include a category, code, message, and recoverable flag so the
// trial aggregator can decide whether a failure costs one repetition or the
// whole axis point.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by harness component.
type ErrorCategory string

const (
	ErrCategoryConfig    ErrorCategory = "CONFIG"
	ErrCategoryWorkspace ErrorCategory = "WORKSPACE"
	ErrCategoryLaunch    ErrorCategory = "LAUNCH"
	ErrCategoryParse     ErrorCategory = "PARSE"
	ErrCategoryCache     ErrorCategory = "CACHE"
	ErrCategoryStorage   ErrorCategory = "STORAGE"
	ErrCategoryCatalog   ErrorCategory = "CATALOG"
	ErrCategoryInternal  ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Config codes
	CodeConfigNotFound = "CONFIG_NOT_FOUND"
	CodeConfigInvalid  = "CONFIG_INVALID"

	// Workspace codes
	CodeResetFailed = "RESET_FAILED"

	// Launch codes
	CodeStartFailed   = "START_FAILED"
	CodeNonZeroExit   = "NON_ZERO_EXIT"
	CodeLaunchTimeout = "LAUNCH_TIMEOUT"

	// Parse codes
	CodeMalformedValue      = "MALFORMED_VALUE"
	CodeSampleCountMismatch = "SAMPLE_COUNT_MISMATCH"

	// Cache codes
	CodeDropFailed = "DROP_FAILED"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeListFailed     = "LIST_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Catalog codes
	CodeOpenFailed    = "OPEN_FAILED"
	CodeWriteFailed   = "WRITE_FAILED"
	CodeReadFailed    = "READ_FAILED"
	CodeRunNotFound   = "RUN_NOT_FOUND"
	CodeCorruptRecord = "CORRUPT_RECORD"

	// Internal codes
	CodeInvalidState = "INVALID_STATE"
)

// BenchError is the structured error type used throughout the harness.
type BenchError struct {
	Category    ErrorCategory
	Code        string
	Message     string
	Details     map[string]interface{}
	Cause       error
	Recoverable bool
}

// Error returns a formatted error string.
func (e *BenchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *BenchError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *BenchError) Is(target error) bool {
	var t *BenchError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new BenchError.
func New(category ErrorCategory, code, message string) *BenchError {
	return &BenchError{
		Category:    category,
		Code:        code,
		Message:     message,
		Recoverable: isRecoverable(category),
	}
}

// Wrap creates a new BenchError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *BenchError {
	return &BenchError{
		Category:    category,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: isRecoverable(category),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *BenchError) WithDetails(details map[string]interface{}) *BenchError {
	cp := *e
	cp.Details = details
	return &cp
}

// Detail returns a single detail value, or nil when absent.
func (e *BenchError) Detail(key string) interface{} {
	if e.Details == nil {
		return nil
	}
	return e.Details[key]
}

// IsRecoverable checks whether an error (or its chain) only invalidates a
// single trial.
func IsRecoverable(err error) bool {
	var be *BenchError
	if errors.As(err, &be) {
		return be.Recoverable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a BenchError.
func GetCategory(err error) ErrorCategory {
	var be *BenchError
	if errors.As(err, &be) {
		return be.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a BenchError.
func GetCode(err error) string {
	var be *BenchError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// As is a convenience around errors.As for BenchError.
func As(err error) (*BenchError, bool) {
	var be *BenchError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// isRecoverable reports which categories invalidate a trial rather than a run.
func isRecoverable(category ErrorCategory) bool {
	switch category {
	case ErrCategoryLaunch, ErrCategoryParse, ErrCategoryCache:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewConfigError(code, message string, cause error) *BenchError {
	return Wrap(ErrCategoryConfig, code, message, cause)
}

func NewWorkspaceError(message string, cause error) *BenchError {
	return Wrap(ErrCategoryWorkspace, CodeResetFailed, message, cause)
}

// NewLaunchError records the full command line so a failed trial can be
// reproduced from the log alone.
func NewLaunchError(code, commandLine string, cause error) *BenchError {
	return Wrap(ErrCategoryLaunch, code, "launch failed: "+commandLine, cause).
		WithDetails(map[string]interface{}{"command": commandLine})
}

// NewSampleCountError reports a tag whose sample count differs from the
// number of worker processes.
func NewSampleCountError(tag string, expected, actual int) *BenchError {
	msg := fmt.Sprintf("tag %s: expected %d samples, found %d", tag, expected, actual)
	return New(ErrCategoryParse, CodeSampleCountMismatch, msg).WithDetails(map[string]interface{}{
		"tag":      tag,
		"expected": expected,
		"actual":   actual,
	})
}

// NewMalformedValueError reports a tag occurrence whose value is not a
// non-negative number of seconds.
func NewMalformedValueError(tag, value string, cause error) *BenchError {
	msg := fmt.Sprintf("tag %s: malformed value %q", tag, value)
	return Wrap(ErrCategoryParse, CodeMalformedValue, msg, cause).WithDetails(map[string]interface{}{
		"tag":   tag,
		"value": value,
	})
}

func NewCacheError(message string, cause error) *BenchError {
	return Wrap(ErrCategoryCache, CodeDropFailed, message, cause)
}

func NewStorageError(code, message string, cause error) *BenchError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewCatalogError(code, message string, cause error) *BenchError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

// NewStateError reports a component used outside its lifecycle, such as a
// run requested before start.
func NewStateError(message string) *BenchError {
	return New(ErrCategoryInternal, CodeInvalidState, message)
}

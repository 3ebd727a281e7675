// Package errors defines the gatekeeper error taxonomy.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// RecoverableProvider indicates a rate limit or transient provider failure.
	// Callers take a fallback path instead of failing the job.
	RecoverableProvider ErrorCode = "RECOVERABLE_PROVIDER_ERROR"
	// ParseFailure indicates a single file could not be analyzed
	ParseFailure ErrorCode = "PARSE_ERROR"
	// Configuration indicates a fatal startup misconfiguration
	Configuration ErrorCode = "CONFIGURATION_ERROR"
	// Validation indicates input rejected at a boundary
	Validation ErrorCode = "VALIDATION_ERROR"
	// JobExecution indicates a job handler failed
	JobExecution ErrorCode = "JOB_EXECUTION_ERROR"
	// Timeout indicates an operation exceeded its deadline
	Timeout ErrorCode = "TIMEOUT"
	// Unauthorized indicates a request that failed authentication
	Unauthorized ErrorCode = "UNAUTHORIZED"
	// NotFound indicates a requested entity does not exist
	NotFound ErrorCode = "NOT_FOUND"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// GateError is an error carrying a taxonomy code, a message and an optional cause.
type GateError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Hint    string      `json:"hint,omitempty"`
	cause   error
}

// New creates a new GateError
func New(code ErrorCode, message string, cause error) *GateError {
	return &GateError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Error implements the error interface
func (e *GateError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *GateError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *GateError) WithDetails(details interface{}) *GateError {
	e.Details = details
	return e
}

// WithHint attaches a human-readable remediation hint.
func (e *GateError) WithHint(hint string) *GateError {
	e.Hint = hint
	return e
}

func NewRecoverableProviderError(message string, cause error) *GateError {
	return New(RecoverableProvider, message, cause)
}

func NewParseError(message string, cause error) *GateError {
	return New(ParseFailure, message, cause)
}

func NewConfigurationError(message string, cause error) *GateError {
	return New(Configuration, message, cause)
}

func NewValidationError(message string, cause error) *GateError {
	return New(Validation, message, cause)
}

func NewJobExecutionError(message string, cause error) *GateError {
	return New(JobExecution, message, cause)
}

// CodeOf returns the code of the first GateError in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var ge *GateError
	if stderrors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

// HasCode reports whether err's chain contains a GateError with the given code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var ge *GateError
		if !stderrors.As(err, &ge) {
			return false
		}
		if ge.Code == code {
			return true
		}
		err = ge.cause
	}
	return false
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

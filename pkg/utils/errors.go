package utils

import (
	"errors"
	"fmt"
	"runtime"
)

// AppError represents an application error with context
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	File       string `json:"file,omitempty"`
	Line       int    `json:"line,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAppError creates a new application error
func NewAppError(code, message string, details ...string) *AppError {
	_, file, line, _ := runtime.Caller(1)

	err := &AppError{
		Code:    code,
		Message: message,
		File:    file,
		Line:    line,
	}

	if len(details) > 0 {
		err.Details = details[0]
	}

	return err
}

// WithStackTrace adds stack trace to the error
func (e *AppError) WithStackTrace() *AppError {
	buf := make([]byte, 1024)
	n := runtime.Stack(buf, false)
	e.StackTrace = string(buf[:n])
	return e
}

// ErrorCode extracts the application error code from err, or empty string
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsRetryable reports whether the error represents a transient condition
// the caller is expected to retry (queue contention rather than a hard denial).
func IsRetryable(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeQueueFull, ErrCodeRapidRequest:
		return true
	}
	return false
}

// Common error codes
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeAdmissionDenied = "ADMISSION_DENIED"
	ErrCodeDailyLimit      = "DAILY_LIMIT"
	ErrCodeQueueFull       = "QUEUE_FULL"
	ErrCodeRapidRequest    = "RAPID_REQUEST"
	ErrCodeRequestTerminal = "REQUEST_TERMINAL"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeDatabase        = "DATABASE_ERROR"
	ErrCodeExecution       = "EXECUTION_ERROR"
	ErrCodeConfiguration   = "CONFIGURATION_ERROR"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

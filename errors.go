package oat

import (
	"errors"
	"fmt"
)

// RuntimeError represents an operational error that should lead to exit code 2
// Examples include configuration errors, provisioning failures, etc.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// SuiteFailureError represents a run where one or more cases did not pass (exit code 1)
type SuiteFailureError struct {
	Message string
}

func (e *SuiteFailureError) Error() string {
	return fmt.Sprintf("suite failure: %s", e.Message)
}

// NewSuiteFailureError creates a new SuiteFailureError
func NewSuiteFailureError(message string) *SuiteFailureError {
	return &SuiteFailureError{Message: message}
}

// IsSuiteFailureError checks if the error is or wraps a SuiteFailureError
func IsSuiteFailureError(err error) bool {
	var suiteErr *SuiteFailureError
	return err != nil && errors.As(err, &suiteErr)
}

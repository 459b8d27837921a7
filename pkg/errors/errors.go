// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed error handling with rich context for Metis.
// Error codes drive the retry policy: only recoverable errors are retried.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies Metis errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInvalidArgument indicates malformed or missing input. Never retried.
	CodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// CodeDimensionMismatch indicates an embedding whose length does not match
	// the configured dimension. Structural, never retried.
	CodeDimensionMismatch ErrorCode = "DIMENSION_MISMATCH"

	// CodeCircuitOpen indicates a circuit breaker rejected the call. Fails fast.
	CodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"

	// CodeTransient indicates a provider-side failure (network, rate limit)
	// that is expected to succeed on retry.
	CodeTransient ErrorCode = "TRANSIENT"

	// CodeNotFound indicates a resource (typically a skill) was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeSecurityExpired indicates a security context older than its lifetime.
	CodeSecurityExpired ErrorCode = "SECURITY_CONTEXT_EXPIRED"

	// CodeSecurityInvalid indicates a security context with missing fields.
	CodeSecurityInvalid ErrorCode = "SECURITY_CONTEXT_INVALID"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Error is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Cause       string                 `json:"cause,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		Context     map[string]interface{} `json:"context,omitempty"`
	}{
		Message:     e.Message,
		Code:        string(e.Code),
		Cause:       causeString(e.Err),
		Recoverable: e.Recoverable,
		Context:     e.Context,
	})
}

func causeString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// New creates a new Error with the given code, message, and cause.
// Recoverability defaults from the code: transient and timeout errors are
// recoverable, everything else is not.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]interface{}),
		Recoverable: code == CodeTransient || code == CodeTimeout,
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable overrides whether the error can be recovered from.
// Returns the error for method chaining.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// AsError attempts to convert an error to a *Error.
// Returns the error as *Error if it is one, or wraps it as transient otherwise:
// unknown errors come from provider SDKs and the network, which are worth a retry.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if me, ok := err.(*Error); ok {
		return me
	}
	return New(CodeTransient, "wrapped error", err)
}

// CodeOf returns the code of err, or CodeInternal for untyped errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if me, ok := err.(*Error); ok {
		return me.Code
	}
	return CodeInternal
}

// IsRecoverable reports whether err should be retried. Untyped errors are
// considered recoverable; callers with stricter needs wrap them first.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if me, ok := err.(*Error); ok {
		return me.Recoverable
	}
	return true
}

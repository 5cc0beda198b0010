// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed errors carrying a classification code and
// observability context for skillmesh components.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies skillmesh errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeConnection indicates a transport could not be established.
	CodeConnection ErrorCode = "CONNECTION_ERROR"

	// CodeNotConnected indicates an operation against a skill with no live
	// connection. No I/O is attempted.
	CodeNotConnected ErrorCode = "NOT_CONNECTED"

	// CodeToolNotFound indicates no provider claims a tool name.
	CodeToolNotFound ErrorCode = "TOOL_NOT_FOUND"

	// CodeToolFailure indicates a tool execution failed.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeIllegalTransition indicates a lifecycle transition was rejected.
	CodeIllegalTransition ErrorCode = "ILLEGAL_TRANSITION"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeLLMError indicates a model provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeStoreError indicates a persistence failure.
	CodeStoreError ErrorCode = "STORE_ERROR"

	// CodeUnavailable indicates the agent is not in a state that serves
	// requests.
	CodeUnavailable ErrorCode = "UNAVAILABLE"
)

// MeshError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type MeshError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int // HTTP status for the announce and probe endpoints
}

// Error implements the error interface.
func (e *MeshError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *MeshError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *MeshError) MarshalJSON() ([]byte, error) {
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Err         string                 `json:"error,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Attributes  map[string]string      `json:"attributes,omitempty"`
		StatusCode  int                    `json:"status_code"`
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         cause,
		Recoverable: e.Recoverable,
		Context:     e.Context,
		Attributes:  e.Attributes,
		StatusCode:  e.StatusCode,
	})
}

// New creates a new MeshError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *MeshError {
	return &MeshError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
		StatusCode: codeToStatusCode(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...any) *MeshError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *MeshError) WithContext(key string, value interface{}) *MeshError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *MeshError) WithAttribute(key, value string) *MeshError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *MeshError) WithRecoverable(recoverable bool) *MeshError {
	e.Recoverable = recoverable
	return e
}

// AsMeshError attempts to convert an error to a MeshError.
// Returns the first MeshError in the chain, or wraps err as internal.
func AsMeshError(err error) *MeshError {
	if err == nil {
		return nil
	}
	var me *MeshError
	if stderrors.As(err, &me) {
		return me
	}
	return New(CodeInternal, "wrapped error", err)
}

// HasCode reports whether any MeshError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var me *MeshError
		if !stderrors.As(err, &me) {
			return false
		}
		if me.Code == code {
			return true
		}
		err = me.Err
	}
	return false
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *MeshError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound, CodeToolNotFound:
		return 404
	case CodeInvalidInput:
		return 400
	case CodeIllegalTransition:
		return 409
	case CodeTimeout:
		return 408
	case CodeNotConnected, CodeConnection, CodeUnavailable:
		return 503
	case CodeLLMError:
		return 502
	default:
		return 500
	}
}

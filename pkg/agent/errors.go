// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"github.com/jllopis/skillmesh/pkg/errors"
	"github.com/jllopis/skillmesh/pkg/telemetry"
)

// ErrChatInProgress is returned when Chat is entered while another call on
// the same loop has not returned.
var ErrChatInProgress = NewInvalidInputError("chat already in progress")

// WrapLLMError wraps a model invocation error with appropriate context.
func WrapLLMError(err error, model string) *errors.MeshError {
	if err == nil {
		return nil
	}
	return errors.New(errors.CodeLLMError, "LLM call failed", err).
		WithContext("model", model).
		WithAttribute(telemetry.AttrLLMModel, model).
		WithRecoverable(true)
}

// WrapToolError wraps a tool execution error with appropriate context.
func WrapToolError(err error, toolName, toolCallID string) *errors.MeshError {
	if err == nil {
		return nil
	}
	return errors.New(errors.CodeToolFailure, "tool execution failed", err).
		WithContext("tool_name", toolName).
		WithContext("tool_call_id", toolCallID).
		WithAttribute(telemetry.AttrToolName, toolName).
		WithRecoverable(true)
}

// NewInvalidInputError creates a new invalid input error.
func NewInvalidInputError(msg string) *errors.MeshError {
	return errors.New(errors.CodeInvalidInput, msg, nil).
		WithRecoverable(false)
}

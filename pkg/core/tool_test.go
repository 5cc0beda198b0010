// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolResultText(t *testing.T) {
	r := ToolResult{Content: []ResultContent{
		{Type: ContentTypeText, Text: "first"},
		{Type: "image"},
		{Type: ContentTypeText, Text: "second"},
	}}
	assert.Equal(t, "first\nsecond", r.Text())
}

func TestToolResultTransitionNotSerialized(t *testing.T) {
	r := TextResult("ok").WithTransition("runtime")
	assert.Equal(t, "runtime", r.Transition)

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"ok"}]}`, string(raw))
}

func TestErrorResult(t *testing.T) {
	r := ErrorResult("boom")
	assert.True(t, r.IsError)
	assert.Equal(t, "boom", r.Text())
}

func TestObjectSchema(t *testing.T) {
	s := ObjectSchema(map[string]any{"q": map[string]any{"type": "string"}}, "q")
	raw, err := json.Marshal(ToolDefinition{Name: "search", InputSchema: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"search","description":"","input_schema":{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}}`, string(raw))
}

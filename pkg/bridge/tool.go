// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bridge executes tools on behalf of agent instances. The bridge
// owns a flat registry of explicit tool descriptors and enforces each
// instance's allow/forbid sets and per-tool path constraints before any
// dispatch. Policy violations are result values, never Go errors: the agent
// sees the failure in its next step and can recover or escalate.
package bridge

import (
	"context"
	"encoding/json"
)

// Tool is one executable capability. Adding a tool is adding a descriptor to
// the registry, not adding a type hierarchy.
type Tool interface {
	// Name returns the tool's unique identifier
	Name() string

	// Description returns a one-line description for LLM context
	Description() string

	// InputSchema returns the JSON Schema for tool parameters
	InputSchema() *Schema

	// PathParams names the parameters that carry workspace paths. The
	// bridge checks these against the instance's path constraints before
	// dispatch.
	PathParams() []string

	// Execute runs the tool with given parameters
	Execute(ctx context.Context, params map[string]interface{}) (*Result, error)
}

// Result is the outcome of one tool execution.
type Result struct {
	// Success indicates if the tool executed successfully
	Success bool `yaml:"success" json:"success"`

	// Data contains the result data (format varies by tool)
	Data interface{} `yaml:"data,omitempty" json:"data,omitempty"`

	// Error contains structured error information if execution failed
	Error *Error `yaml:"error,omitempty" json:"error,omitempty"`

	// Metadata contains tool-specific metadata
	Metadata map[string]interface{} `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	// ExecutionTimeMs is wall-clock execution time in milliseconds
	ExecutionTimeMs int64 `yaml:"execution_time_ms,omitempty" json:"execution_time_ms,omitempty"`
}

// Error is a structured tool failure the agent can act on.
type Error struct {
	// Code is a machine-readable error code
	Code string `yaml:"code" json:"code"`

	// Message is a human-readable error message
	Message string `yaml:"message" json:"message"`

	// Details provides additional error context
	Details map[string]interface{} `yaml:"details,omitempty" json:"details,omitempty"`

	// Retryable indicates if the operation can be retried
	Retryable bool `yaml:"retryable,omitempty" json:"retryable,omitempty"`

	// Suggestion provides a hint for fixing the error
	Suggestion string `yaml:"suggestion,omitempty" json:"suggestion,omitempty"`
}

// Error codes returned by the bridge itself.
const (
	CodeUnknownTool     = "unknown_tool"
	CodePolicyViolation = "tool_policy_violation"
	CodePathEscape      = "path_escape"
	CodeInvalidParams   = "invalid_params"
	CodeToolTimeout     = "tool_timeout"
	CodeExecutionFailed = "execution_failed"
)

// Failure builds a failed result with the given code and message.
func Failure(code, message string) *Result {
	return &Result{Success: false, Error: &Error{Code: code, Message: message}}
}

// Ok builds a successful result carrying data.
func Ok(data interface{}) *Result {
	return &Result{Success: true, Data: data}
}

// Schema is a JSON-Schema shape for tool parameters.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []interface{}      `json:"enum,omitempty"`
	Default     interface{}        `json:"default,omitempty"`
}

// ToJSON converts the schema to JSON bytes.
func (s *Schema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// ToMap converts the schema to a generic map, the shape LLM clients send on
// the wire.
func (s *Schema) ToMap() map[string]interface{} {
	data, err := json.Marshal(s)
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]interface{}{"type": "object"}
	}
	return m
}

// NewObjectSchema creates an object schema with the given properties.
func NewObjectSchema(description string, properties map[string]*Schema, required []string) *Schema {
	return &Schema{
		Type:        "object",
		Description: description,
		Properties:  properties,
		Required:    required,
	}
}

// NewStringSchema creates a string schema.
func NewStringSchema(description string) *Schema {
	return &Schema{Type: "string", Description: description}
}

// NewIntegerSchema creates an integer schema.
func NewIntegerSchema(description string) *Schema {
	return &Schema{Type: "integer", Description: description}
}

// NewBooleanSchema creates a boolean schema.
func NewBooleanSchema(description string) *Schema {
	return &Schema{Type: "boolean", Description: description}
}

// NewArraySchema creates an array schema.
func NewArraySchema(description string, items *Schema) *Schema {
	return &Schema{Type: "array", Description: description, Items: items}
}

// WithEnum adds enum values to the schema.
func (s *Schema) WithEnum(values ...interface{}) *Schema {
	s.Enum = values
	return s
}

// WithDefault adds a default value to the schema.
func (s *Schema) WithDefault(value interface{}) *Schema {
	s.Default = value
	return s
}

// StringParam extracts a string parameter, with ok=false when absent or of
// the wrong type.
func StringParam(params map[string]interface{}, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IntParam extracts an integer parameter. YAML and JSON decoders disagree on
// number types, so both int and float64 are accepted.
func IntParam(params map[string]interface{}, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

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

// Package llm defines the provider-agnostic client interface the executor
// speaks. Concrete clients live in subpackages: anthropic (real HTTP),
// simulated (scripted YAML), recorder (record/playback decorators).
package llm

import (
	"context"

	"github.com/teradata-labs/agentforge/pkg/types"
)

// ToolSchema describes one tool offered to the model. InputSchema is the
// raw JSON-Schema map so this package stays independent of the tool bridge.
type ToolSchema struct {
	Name        string                 `yaml:"name" json:"name"`
	Description string                 `yaml:"description" json:"description"`
	InputSchema map[string]interface{} `yaml:"input_schema" json:"input_schema"`
}

// Request is one completion request. The executor sends exactly two
// messages per call (system via System, the built context as a single user
// message); clients do not enforce that shape.
type Request struct {
	// System is the system prompt, sent separately from Messages
	System string `yaml:"system" json:"system"`

	// Messages is the conversation, oldest first
	Messages []types.Message `yaml:"messages" json:"messages"`

	// Tools the model may call this step
	Tools []ToolSchema `yaml:"tools,omitempty" json:"tools,omitempty"`

	// Thinking requests extended reasoning where the provider supports it
	Thinking bool `yaml:"thinking,omitempty" json:"thinking,omitempty"`
}

// Response is one completion result.
type Response struct {
	// Content is the assistant's text output
	Content string `yaml:"content" json:"content"`

	// ToolCalls are the tool invocations the model requested
	ToolCalls []types.ToolCall `yaml:"tool_calls,omitempty" json:"tool_calls,omitempty"`

	// Thinking holds the reasoning trace when requested and supported
	Thinking string `yaml:"thinking,omitempty" json:"thinking,omitempty"`

	// StopReason is the provider's stop reason (end_turn, tool_use, max_tokens)
	StopReason string `yaml:"stop_reason" json:"stop_reason"`

	// Usage is the provider-reported token accounting for this call
	Usage types.Usage `yaml:"usage" json:"usage"`
}

// Client is a completion provider.
type Client interface {
	// Complete sends one request and returns the model's response.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Name identifies the provider (anthropic, simulated, playback).
	Name() string

	// Model identifies the underlying model.
	Model() string
}

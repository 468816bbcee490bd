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

// Package simulated is a scripted completion client for development and
// tests: responses come from a YAML script, no network, deterministic
// usage. Script exhaustion does not error; the client answers with an
// escalate tool call so the pipeline fails the way a confused agent would.
package simulated

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/agentforge/pkg/llm"
	"github.com/teradata-labs/agentforge/pkg/types"
)

// ScriptToolCall is one scripted tool invocation.
type ScriptToolCall struct {
	Name  string                 `yaml:"name"`
	Input map[string]interface{} `yaml:"input,omitempty"`
}

// ScriptResponse is the scripted completion payload.
type ScriptResponse struct {
	Content   string           `yaml:"content,omitempty"`
	Thinking  string           `yaml:"thinking,omitempty"`
	ToolCalls []ScriptToolCall `yaml:"tool_calls,omitempty"`
}

// Pattern answers any request whose user message matches. Match is a
// substring unless Regex is set.
type Pattern struct {
	Match    string         `yaml:"match"`
	Regex    bool           `yaml:"regex,omitempty"`
	Response ScriptResponse `yaml:"response"`

	compiled *regexp.Regexp
}

// Script is the YAML script shape: ordered steps consumed first, then
// patterns matched against the user message.
type Script struct {
	Model    string           `yaml:"model,omitempty"`
	Steps    []ScriptResponse `yaml:"steps,omitempty"`
	Patterns []Pattern        `yaml:"patterns,omitempty"`
}

// Client replays a script. Steps are consumed in order; once exhausted,
// patterns take over; with nothing left every call escalates.
type Client struct {
	mu     sync.Mutex
	script Script
	next   int
}

// Load reads a script file and builds a client.
func Load(path string) (*Client, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return Parse(data)
}

// Parse builds a client from script YAML.
func Parse(data []byte) (*Client, error) {
	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	for i := range script.Patterns {
		if !script.Patterns[i].Regex {
			continue
		}
		re, err := regexp.Compile(script.Patterns[i].Match)
		if err != nil {
			return nil, fmt.Errorf("pattern %d: compile: %w", i, err)
		}
		script.Patterns[i].compiled = re
	}
	if script.Model == "" {
		script.Model = "simulated"
	}
	return &Client{script: script}, nil
}

// New builds a client directly from a script value.
func New(script Script) *Client {
	c, _ := Parse(mustMarshal(script))
	return c
}

func mustMarshal(v interface{}) []byte {
	data, err := yaml.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func (c *Client) Name() string  { return "simulated" }
func (c *Client) Model() string { return c.script.Model }

// Complete returns the next scripted response. Usage is synthesized
// deterministically from message and response lengths.
func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var sr ScriptResponse
	switch {
	case c.next < len(c.script.Steps):
		sr = c.script.Steps[c.next]
		c.next++
	default:
		if p, ok := c.matchPattern(req); ok {
			sr = p
		} else {
			sr = ScriptResponse{
				Content: "no scripted response remains for this request",
				ToolCalls: []ScriptToolCall{{
					Name:  "escalate",
					Input: map[string]interface{}{"reason": "simulated script exhausted"},
				}},
			}
		}
	}
	return c.render(req, sr), nil
}

func (c *Client) matchPattern(req *llm.Request) (ScriptResponse, bool) {
	user := lastUserContent(req)
	for _, p := range c.script.Patterns {
		if p.compiled != nil {
			if p.compiled.MatchString(user) {
				return p.Response, true
			}
			continue
		}
		if strings.Contains(user, p.Match) {
			return p.Response, true
		}
	}
	return ScriptResponse{}, false
}

func lastUserContent(req *llm.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

func (c *Client) render(req *llm.Request, sr ScriptResponse) *llm.Response {
	resp := &llm.Response{
		Content:    sr.Content,
		Thinking:   sr.Thinking,
		StopReason: "end_turn",
	}
	for _, tc := range sr.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, types.ToolCall{
			ID:    "sim-" + uuid.NewString()[:8],
			Name:  tc.Name,
			Input: tc.Input,
		})
	}
	if len(resp.ToolCalls) > 0 {
		resp.StopReason = "tool_use"
	}

	// len/4 mirrors the heuristic token counter so budgets stay coherent.
	in := len(req.System)
	for _, m := range req.Messages {
		in += len(m.Content)
	}
	out := len(sr.Content) + len(sr.Thinking)
	for _, tc := range sr.ToolCalls {
		out += len(tc.Name) + 16*len(tc.Input)
	}
	resp.Usage = types.Usage{
		InputTokens:  in / 4,
		OutputTokens: out / 4,
		TotalTokens:  in/4 + out/4,
	}
	return resp
}

var _ llm.Client = (*Client)(nil)

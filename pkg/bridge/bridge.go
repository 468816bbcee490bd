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
package bridge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/agentforge/internal/log"
	"github.com/teradata-labs/agentforge/pkg/types"
)

// DefaultToolTimeout bounds a single tool execution.
const DefaultToolTimeout = 30 * time.Second

// Terminal action names. These tools end a stage rather than act on the
// workspace; the executor inspects dispatched names for them.
const (
	ToolComplete  = "complete"
	ToolEscalate  = "escalate"
	ToolCannotFix = "cannot_fix"
)

// IsTerminal reports whether the tool name is a terminal action.
func IsTerminal(name string) bool {
	return name == ToolComplete || name == ToolEscalate || name == ToolCannotFix
}

// Bridge binds a tool registry to one agent instance's policy and a
// workspace root. It is owned exclusively by that instance for the duration
// of one stage.
type Bridge struct {
	registry *Registry
	policy   *Policy
	root     string
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a bridge enforcing the given policy over the registry.
// root is the workspace directory all file tools operate inside.
func New(registry *Registry, policy *Policy, root string, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	return &Bridge{
		registry: registry,
		policy:   policy,
		root:     root,
		timeout:  timeout,
		logger:   log.Logger(),
	}
}

// Root returns the workspace root the bridge operates in.
func (b *Bridge) Root() string { return b.root }

// AllowedTools returns the tools the policy permits, in allow-list order,
// skipping names with no registered implementation.
func (b *Bridge) AllowedTools() []Tool {
	var tools []Tool
	for _, name := range b.policy.Allowed {
		if forbidden(b.policy.Forbidden, name) {
			continue
		}
		if tool, ok := b.registry.Get(name); ok {
			tools = append(tools, tool)
		}
	}
	return tools
}

func forbidden(set []string, name string) bool {
	for _, f := range set {
		if f == name {
			return true
		}
	}
	return false
}

// Dispatch executes one tool call under the instance's policy. It always
// returns a well-formed result: policy violations, bad paths, timeouts and
// tool panics all come back as failure results, never as Go errors.
func (b *Bridge) Dispatch(ctx context.Context, call types.ToolCall) *Result {
	start := time.Now()
	result := b.dispatch(ctx, call)
	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	if !result.Success && result.Error != nil {
		b.logger.Debug("tool dispatch failed",
			zap.String("tool", call.Name),
			zap.String("code", result.Error.Code),
			zap.String("message", result.Error.Message))
	}
	return result
}

func (b *Bridge) dispatch(ctx context.Context, call types.ToolCall) *Result {
	if err := b.policy.CheckTool(call.Name); err != nil {
		return &Result{Success: false, Error: err}
	}

	tool, ok := b.registry.Get(call.Name)
	if !ok {
		return Failure(CodeUnknownTool, fmt.Sprintf("no implementation registered for tool %q", call.Name))
	}

	params := call.Input
	if params == nil {
		params = map[string]interface{}{}
	}

	// Path parameters are validated against the workspace root first, then
	// against the instance's constraints. Both checks run before any
	// side effect.
	for _, key := range tool.PathParams() {
		raw, ok := StringParam(params, key)
		if !ok {
			continue
		}
		rel, err := b.resolve(raw)
		if err != nil {
			return &Result{Success: false, Error: err}
		}
		if perr := b.policy.CheckPath(call.Name, rel); perr != nil {
			return &Result{Success: false, Error: perr}
		}
		params[key] = rel
	}

	toolCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	result, err := tool.Execute(toolCtx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(toolCtx.Err(), context.DeadlineExceeded) {
			return &Result{Success: false, Error: &Error{
				Code:      CodeToolTimeout,
				Message:   fmt.Sprintf("tool %q exceeded its %s timeout", call.Name, b.timeout),
				Retryable: true,
			}}
		}
		return Failure(CodeExecutionFailed, fmt.Sprintf("tool %q: %v", call.Name, err))
	}
	if result == nil {
		return Failure(CodeExecutionFailed, fmt.Sprintf("tool %q returned no result", call.Name))
	}
	return result
}

// resolve normalizes a tool-supplied path to workspace-relative form and
// rejects escapes before any policy check.
func (b *Bridge) resolve(raw string) (string, *Error) {
	p := strings.ReplaceAll(raw, "\\", "/")
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(b.root, p)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", &Error{
				Code:       CodePathEscape,
				Message:    fmt.Sprintf("absolute path %q is outside the workspace", raw),
				Suggestion: "use a workspace-relative path",
			}
		}
		p = rel
	}
	clean := filepath.ToSlash(filepath.Clean(p))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", &Error{
			Code:       CodePathEscape,
			Message:    fmt.Sprintf("path %q escapes the workspace", raw),
			Suggestion: "use a workspace-relative path",
		}
	}
	return clean, nil
}

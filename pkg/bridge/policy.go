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
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Policy is one agent instance's tool restrictions: an allow-list, an
// explicit forbid-list that overrides any allow, and per-tool path
// constraints expressed as doublestar globs. A leading '!' negates a
// pattern.
type Policy struct {
	Allowed   []string
	Forbidden []string

	// PathConstraints maps tool name to glob patterns applied to every
	// path-bearing parameter. A path must match at least one positive
	// pattern (when any exist) and no negated pattern.
	PathConstraints map[string][]string
}

// CheckTool reports whether the policy permits invoking the named tool.
// A nil return means permitted.
func (p *Policy) CheckTool(name string) *Error {
	for _, f := range p.Forbidden {
		if f == name {
			return &Error{
				Code:       CodePolicyViolation,
				Message:    fmt.Sprintf("tool %q is forbidden for this agent", name),
				Details:    map[string]interface{}{"tool": name},
				Suggestion: "use one of the allowed tools instead",
			}
		}
	}
	for _, a := range p.Allowed {
		if a == name {
			return nil
		}
	}
	return &Error{
		Code:       CodePolicyViolation,
		Message:    fmt.Sprintf("tool %q is not in this agent's allowed set", name),
		Details:    map[string]interface{}{"tool": name, "allowed": p.Allowed},
		Suggestion: "use one of the allowed tools instead",
	}
}

// CheckPath reports whether the policy permits the named tool to touch the
// given workspace-relative path. A nil return means permitted.
func (p *Policy) CheckPath(tool, relPath string) *Error {
	patterns := p.PathConstraints[tool]
	if len(patterns) == 0 {
		return nil
	}

	normalized := path.Clean(strings.ReplaceAll(relPath, "\\", "/"))

	positive := false
	matched := false
	for _, pattern := range patterns {
		negated := strings.HasPrefix(pattern, "!")
		glob := strings.TrimPrefix(pattern, "!")

		ok, err := doublestar.Match(glob, normalized)
		if err != nil {
			return &Error{
				Code:    CodePolicyViolation,
				Message: fmt.Sprintf("invalid path constraint %q for tool %q: %v", pattern, tool, err),
			}
		}
		if negated {
			if ok {
				return &Error{
					Code:       CodePolicyViolation,
					Message:    fmt.Sprintf("path %q is excluded for tool %q by pattern %q", relPath, tool, pattern),
					Details:    map[string]interface{}{"tool": tool, "path": relPath, "pattern": pattern},
					Suggestion: "operate on a path within this agent's declared scope",
				}
			}
			continue
		}
		positive = true
		if ok {
			matched = true
		}
	}

	if positive && !matched {
		return &Error{
			Code:       CodePolicyViolation,
			Message:    fmt.Sprintf("path %q does not match any allowed pattern for tool %q", relPath, tool),
			Details:    map[string]interface{}{"tool": tool, "path": relPath, "patterns": patterns},
			Suggestion: "operate on a path within this agent's declared scope",
		}
	}
	return nil
}

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

// Package types contains shared types used across the agentforge substrate.
// This package breaks import cycles by providing common shapes that the
// state store, the executor, the conformance gate, and the LLM clients all
// depend on.
package types

import (
	"fmt"
	"time"
)

// ToolCall represents a single tool invocation requested by the model.
type ToolCall struct {
	// ID is a unique identifier for this tool call
	ID string `yaml:"id" json:"id"`

	// Name is the registered tool name
	Name string `yaml:"name" json:"name"`

	// Input contains the tool parameters
	Input map[string]interface{} `yaml:"input,omitempty" json:"input,omitempty"`
}

// Message represents one turn handed to the LLM client. The executor only
// ever sends two per call: a system message and a user message.
type Message struct {
	// Role is the message sender (system, user)
	Role string `yaml:"role" json:"role"`

	// Content is the message text
	Content string `yaml:"content" json:"content"`
}

// Usage tracks token consumption and cost for one LLM call.
type Usage struct {
	InputTokens  int     `yaml:"input_tokens" json:"input_tokens"`
	OutputTokens int     `yaml:"output_tokens" json:"output_tokens"`
	TotalTokens  int     `yaml:"total_tokens" json:"total_tokens"`
	CostUSD      float64 `yaml:"cost_usd,omitempty" json:"cost_usd,omitempty"`
}

// Add accumulates another call's usage into this one.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.CostUSD += other.CostUSD
}

// Violation is a single finding from a conformance check.
type Violation struct {
	// CheckID names the rule that fired (e.g. "style/naming", "security/secrets")
	CheckID string `yaml:"check_id" json:"check_id"`

	// File is the workspace-relative path the violation was found in
	File string `yaml:"file" json:"file"`

	// Line is 1-based; 0 when the violation is file-scoped
	Line int `yaml:"line,omitempty" json:"line,omitempty"`

	// Message describes the violation
	Message string `yaml:"message" json:"message"`

	// Severity is one of error, warning
	Severity string `yaml:"severity" json:"severity"`
}

func (v Violation) String() string {
	if v.Line > 0 {
		return fmt.Sprintf("%s:%d: %s (%s)", v.File, v.Line, v.Message, v.CheckID)
	}
	return fmt.Sprintf("%s: %s (%s)", v.File, v.Message, v.CheckID)
}

// Verification layer names, in execution order. Syntax gates everything
// after it.
const (
	LayerSyntax       = "syntax"
	LayerTypeCheck    = "type_check"
	LayerStyle        = "conformance_style"
	LayerArchitecture = "conformance_architecture"
	LayerSecurity     = "conformance_security"
	LayerTests        = "tests_affected"
)

// LayerOrder is the canonical execution order of verification layers.
var LayerOrder = []string{
	LayerSyntax,
	LayerTypeCheck,
	LayerStyle,
	LayerArchitecture,
	LayerSecurity,
	LayerTests,
}

// LayerResult is the outcome of one verification layer for one edit.
type LayerResult struct {
	Passed     bool          `yaml:"passed" json:"passed"`
	Violations []Violation   `yaml:"violations,omitempty" json:"violations,omitempty"`
	Duration   time.Duration `yaml:"duration" json:"duration"`

	// Skipped is true when an earlier layer failure prevented this layer
	// from running (syntax gates everything after it).
	Skipped bool `yaml:"skipped,omitempty" json:"skipped,omitempty"`
}

// VerificationBundle is the full post-edit check result: one LayerResult per
// verification layer, keyed by layer name.
type VerificationBundle struct {
	Layers map[string]LayerResult `yaml:"layers" json:"layers"`

	// Files lists the workspace-relative paths the bundle covers
	Files []string `yaml:"files,omitempty" json:"files,omitempty"`

	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

// Passed reports whether every executed layer passed.
func (b *VerificationBundle) Passed() bool {
	if b == nil {
		return true
	}
	for _, lr := range b.Layers {
		if !lr.Skipped && !lr.Passed {
			return false
		}
	}
	return true
}

// FailingLayers returns the names of layers that ran and failed, in
// canonical order.
func (b *VerificationBundle) FailingLayers() []string {
	if b == nil {
		return nil
	}
	var failing []string
	for _, name := range LayerOrder {
		if lr, ok := b.Layers[name]; ok && !lr.Skipped && !lr.Passed {
			failing = append(failing, name)
		}
	}
	return failing
}

// AllViolations flattens every layer's violations in canonical layer order.
func (b *VerificationBundle) AllViolations() []Violation {
	if b == nil {
		return nil
	}
	var all []Violation
	for _, name := range LayerOrder {
		if lr, ok := b.Layers[name]; ok {
			all = append(all, lr.Violations...)
		}
	}
	return all
}

// ReviewIssue is a single finding from a reviewer agent.
type ReviewIssue struct {
	// Severity is blocking or advisory
	Severity string `yaml:"severity" json:"severity"`

	// Description of the issue
	Description string `yaml:"description" json:"description"`

	// Location is an optional artifact-relative pointer (section, path)
	Location string `yaml:"location,omitempty" json:"location,omitempty"`
}

// Review severities.
const (
	ReviewBlocking = "blocking"
	ReviewAdvisory = "advisory"
)

// ReviewRecord is one reviewer's verdict on a stage artifact.
type ReviewRecord struct {
	Reviewer     string        `yaml:"reviewer" json:"reviewer"`
	ArtifactHash string        `yaml:"artifact_hash" json:"artifact_hash"`
	Issues       []ReviewIssue `yaml:"issues,omitempty" json:"issues,omitempty"`
	CreatedAt    time.Time     `yaml:"created_at" json:"created_at"`
}

// HasBlocking reports whether the review contains any blocking issue.
func (r *ReviewRecord) HasBlocking() bool {
	for _, issue := range r.Issues {
		if issue.Severity == ReviewBlocking {
			return true
		}
	}
	return false
}

// BlockingIssues returns only the blocking issues.
func (r *ReviewRecord) BlockingIssues() []ReviewIssue {
	var blocking []ReviewIssue
	for _, issue := range r.Issues {
		if issue.Severity == ReviewBlocking {
			blocking = append(blocking, issue)
		}
	}
	return blocking
}

// Decision is a user's verdict on an artifact presented for iteration.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionRevise  Decision = "revise"
	DecisionReject  Decision = "reject"
	DecisionExit    Decision = "exit"
	DecisionExtend  Decision = "extend"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionRevise, DecisionReject, DecisionExit, DecisionExtend:
		return true
	}
	return false
}

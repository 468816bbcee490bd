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

// Package contextbuilder assembles the fixed-budget execution context for
// one step. Every section is rebuilt fresh from the state store; prior LLM
// messages are never consulted, so context size stays flat across steps.
package contextbuilder

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/teradata-labs/agentforge/pkg/state"
	"github.com/teradata-labs/agentforge/pkg/tokens"
	"github.com/teradata-labs/agentforge/pkg/types"
)

// Per-section token budgets. The system prompt is budgeted at agent load;
// the rest are enforced here. Total stays at or under BudgetTotal.
const (
	BudgetSystem           = 1500
	BudgetTaskFrame        = 500
	BudgetCurrentState     = 4000
	BudgetRecentActions    = 1000
	BudgetVerification     = 200
	BudgetAvailableActions = 800
	BudgetTotal            = 8000
)

const (
	maxRecentActions = 3
	maxErrorChars    = 500
	maxListItems     = 10
)

// ToolInfo is one available action offered to the agent.
type ToolInfo struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// FileView is a truncated view of one workspace file centered on a focus
// line.
type FileView struct {
	Path      string `yaml:"path"`
	FocusLine int    `yaml:"focus_line,omitempty"`
	Content   string `yaml:"content"`
}

// Input is everything the builder reads for one step. All of it comes from
// the state store or the agent registry; none of it from prior responses.
type Input struct {
	Task   *state.Task
	State  *state.TaskState
	Memory *state.WorkingMemory

	// Steps is the task's full ledger; the builder keeps the tail.
	Steps []state.StepRecord

	// SystemPrompt is the agent's identity prompt from the registry.
	SystemPrompt string

	// Tools are the actions the agent's bridge will accept.
	Tools []ToolInfo

	// Artifact is the current stage's latest artifact, if any.
	Artifact     []byte
	ArtifactName string

	// StageInputs are upstream artifacts feeding this stage, by name.
	StageInputs map[string]string

	// FileView is an optional code view for fix/test goals.
	FileView *FileView

	// Violation is the target finding for fix_violation goals.
	Violation *types.Violation
}

// Context is one built step context.
type Context struct {
	System      string
	UserMessage string
	Hash        string
	TokenCount  int
}

// Builder renders step contexts with a fixed section schema.
type Builder struct {
	counter tokens.Counter
}

// New creates a builder using the given counter (nil selects the default).
func New(counter tokens.Counter) *Builder {
	if counter == nil {
		counter = tokens.Default()
	}
	return &Builder{counter: counter}
}

// Build assembles the context. The user message is a stable, sorted YAML
// document; its hash goes into the step record.
func (b *Builder) Build(in *Input) (*Context, error) {
	if in.Task == nil || in.State == nil {
		return nil, fmt.Errorf("context input requires task and state")
	}

	doc := map[string]interface{}{
		"task_frame":        b.taskFrame(in),
		"current_state":     b.currentState(in),
		"recent_actions":    b.recentActions(in),
		"verification":      b.verification(in),
		"available_actions": b.availableActions(in),
	}

	rendered, err := state.CanonicalizeValue(doc)
	if err != nil {
		return nil, fmt.Errorf("render context: %w", err)
	}

	user := string(rendered)
	return &Context{
		System:      in.SystemPrompt,
		UserMessage: user,
		Hash:        state.HashBytes(append([]byte(in.SystemPrompt), rendered...)),
		TokenCount:  b.counter.Count(in.SystemPrompt) + b.counter.Count(user),
	}, nil
}

// taskFrame is the who/what/where header, budgeted at 500 tokens.
func (b *Builder) taskFrame(in *Input) map[string]interface{} {
	frame := map[string]interface{}{
		"task_id":   in.Task.ID,
		"goal_type": string(in.Task.GoalType),
		"request":   b.fit(in.Task.Request, BudgetTaskFrame/2),
		"stage":     in.State.CurrentStage,
	}
	if stage := in.State.Stages[in.State.CurrentStage]; stage != nil {
		frame["iteration"] = stage.Iteration
		frame["stage_status"] = string(stage.Status)
	}
	if in.Task.ExitStage != "" {
		frame["exit_stage"] = in.Task.ExitStage
	}
	return frame
}

// currentState is the goal-specific body, budgeted at 4,000 tokens. It is
// the largest section, so compression starts here.
func (b *Builder) currentState(in *Input) map[string]interface{} {
	budget := BudgetCurrentState
	body := map[string]interface{}{}

	switch in.Task.GoalType {
	case state.GoalFixViolation:
		if in.Violation != nil {
			body["violation"] = map[string]interface{}{
				"check_id": in.Violation.CheckID,
				"file":     in.Violation.File,
				"line":     in.Violation.Line,
				"message":  b.fit(in.Violation.Message, maxErrorChars/4),
			}
		}
	case state.GoalWriteTests:
		if in.FileView != nil {
			body["target"] = in.FileView.Path
		}
	case state.GoalImplementFeature, state.GoalDesign:
		// The request in the task frame plus stage inputs carry the goal.
	}

	if len(in.StageInputs) > 0 {
		inputs := map[string]interface{}{}
		share := budget / (2 * (len(in.StageInputs) + 1))
		for name, content := range in.StageInputs {
			inputs[name] = b.fit(content, share)
		}
		body["inputs"] = inputs
	}

	if in.FileView != nil {
		body["file_view"] = map[string]interface{}{
			"path":       in.FileView.Path,
			"focus_line": in.FileView.FocusLine,
			"content":    b.fitFile(in.FileView.Content, in.FileView.FocusLine, budget/3),
		}
	}

	if len(in.Artifact) > 0 {
		body["artifact"] = map[string]interface{}{
			"name":    in.ArtifactName,
			"content": b.fit(string(in.Artifact), budget/3),
		}
	}

	if stage := in.State.Stages[in.State.CurrentStage]; stage != nil && len(stage.Feedback) > 0 {
		var feedback []map[string]interface{}
		for _, f := range tail(stage.Feedback, maxListItems) {
			feedback = append(feedback, map[string]interface{}{
				"source":    f.Source,
				"iteration": f.Iteration,
				"text":      b.fit(f.Text, maxErrorChars/4),
			})
		}
		if dropped := len(stage.Feedback) - len(feedback); dropped > 0 {
			feedback = append(feedback, map[string]interface{}{
				"source": "system",
				"text":   fmt.Sprintf("and %d more", dropped),
			})
		}
		body["feedback"] = feedback
	}

	if in.State.Resolution != "" {
		body["escalation_resolution"] = b.fit(in.State.Resolution, maxErrorChars/4)
	}

	if in.Memory != nil && len(in.Memory.Items) > 0 {
		var memory []map[string]interface{}
		for _, item := range in.Memory.Items {
			memory = append(memory, map[string]interface{}{
				"key":     item.Key,
				"content": b.fit(item.Content, budget/(4*len(in.Memory.Items))),
			})
		}
		body["memory"] = memory
	}

	return body
}

// recentActions summarizes the last steps, budgeted at 1,000 tokens. If
// three summaries overflow the budget, only the last two are kept. The
// window always renders the full slot count: slots before the first step
// carry a fixed placeholder, keeping the section size independent of how
// much history exists.
func (b *Builder) recentActions(in *Input) []map[string]interface{} {
	steps := stepEvents(in.Steps)
	for _, keep := range []int{maxRecentActions, 2, 1} {
		section := b.renderActions(tail(steps, keep))
		for pad := len(steps); pad < maxRecentActions; pad++ {
			section = append([]map[string]interface{}{{
				"step":    0,
				"actions": "(none)",
				"results": "no step recorded",
			}}, section...)
		}
		if b.countSection(section) <= BudgetRecentActions {
			return section
		}
	}
	return nil
}

func (b *Builder) renderActions(steps []state.StepRecord) []map[string]interface{} {
	var out []map[string]interface{}
	for _, s := range steps {
		entry := map[string]interface{}{"step": s.Step}
		var actions []string
		for _, a := range s.Actions {
			actions = append(actions, a.Tool)
		}
		entry["actions"] = strings.Join(actions, ", ")
		var results []string
		for _, r := range s.Results {
			results = append(results, b.summarizeResult(r))
		}
		entry["results"] = strings.Join(results, "; ")
		out = append(out, entry)
	}
	return out
}

// summarizeResult is a one-line rendering of a tool outcome. Errors are
// capped so one stack trace cannot eat the section.
func (b *Builder) summarizeResult(r state.ResultRecord) string {
	if r.Success {
		if r.Summary != "" {
			return firstLine(r.Summary)
		}
		return "ok"
	}
	msg := r.Error
	if msg == "" {
		msg = r.Summary
	}
	if len(msg) > maxErrorChars {
		msg = msg[:maxErrorChars]
	}
	return "failed: " + firstLine(msg)
}

// verification is the latest bundle summary, budgeted at 200 tokens.
func (b *Builder) verification(in *Input) map[string]interface{} {
	stage := in.State.Stages[in.State.CurrentStage]
	if stage == nil || stage.Verification == nil {
		return map[string]interface{}{"status": "no checks run yet"}
	}
	bundle := stage.Verification

	section := map[string]interface{}{"passed": bundle.Passed()}
	if failing := bundle.FailingLayers(); len(failing) > 0 {
		section["failing_layers"] = failing
		var firsts []string
		for _, v := range bundle.AllViolations() {
			firsts = append(firsts, fmt.Sprintf("%s %s:%d %s",
				v.CheckID, v.File, v.Line, firstLine(v.Message)))
			if len(firsts) == 3 {
				break
			}
		}
		if total := len(bundle.AllViolations()); total > len(firsts) {
			firsts = append(firsts, fmt.Sprintf("and %d more", total-len(firsts)))
		}
		section["violations"] = firsts
	}
	return section
}

// availableActions lists the agent's tools, budgeted at 800 tokens.
func (b *Builder) availableActions(in *Input) []map[string]string {
	tools := append([]ToolInfo(nil), in.Tools...)
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	out := make([]map[string]string, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]string{
			"name":        t.Name,
			"description": firstLine(t.Description),
		})
	}
	return out
}

func (b *Builder) countSection(v interface{}) int {
	data, err := state.CanonicalizeValue(v)
	if err != nil {
		return 0
	}
	return b.counter.Count(string(data))
}

// fit truncates text to roughly the given token budget.
func (b *Builder) fit(text string, budgetTokens int) string {
	if b.counter.Count(text) <= budgetTokens {
		return text
	}
	// Four chars per token is close enough for a hard cap.
	limit := budgetTokens * 4
	if limit >= len(text) {
		limit = len(text) - 1
	}
	// Never cut through a multi-byte rune.
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + "\n[truncated]"
}

// fitFile truncates file content around the focus line: first and last
// lines kept, the middle elided, the focus window preserved.
func (b *Builder) fitFile(content string, focusLine, budgetTokens int) string {
	if b.counter.Count(content) <= budgetTokens {
		return content
	}
	lines := strings.Split(content, "\n")
	window := budgetTokens / 16 // rough lines per half-window
	if window < 5 {
		window = 5
	}

	if focusLine <= 0 || focusLine > len(lines) {
		head := strings.Join(lines[:min(window, len(lines))], "\n")
		tailStart := len(lines) - window
		if tailStart <= window {
			return head
		}
		return head + "\n[... elided ...]\n" + strings.Join(lines[tailStart:], "\n")
	}

	start := focusLine - 1 - window
	if start < 0 {
		start = 0
	}
	end := focusLine - 1 + window
	if end > len(lines) {
		end = len(lines)
	}

	var b2 strings.Builder
	if start > 0 {
		fmt.Fprintf(&b2, "[... %d lines elided ...]\n", start)
	}
	for i := start; i < end; i++ {
		fmt.Fprintf(&b2, "%d: %s\n", i+1, lines[i])
	}
	if end < len(lines) {
		fmt.Fprintf(&b2, "[... %d lines elided ...]", len(lines)-end)
	}
	return b2.String()
}

func stepEvents(steps []state.StepRecord) []state.StepRecord {
	var out []state.StepRecord
	for _, s := range steps {
		if s.Event == state.EventStep {
			out = append(out, s)
		}
	}
	return out
}

func tail[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

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

// Package executor runs one minimal-context step: build a fresh context,
// make a single two-message LLM call, dispatch the returned tool calls
// through the agent's bridge, verify edits, and persist the step record.
// The step is the unit of recovery; nothing in memory outlives it.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"github.com/teradata-labs/agentforge/internal/log"
	"github.com/teradata-labs/agentforge/pkg/agent"
	"github.com/teradata-labs/agentforge/pkg/bridge"
	"github.com/teradata-labs/agentforge/pkg/conformance"
	"github.com/teradata-labs/agentforge/pkg/contextbuilder"
	"github.com/teradata-labs/agentforge/pkg/llm"
	"github.com/teradata-labs/agentforge/pkg/state"
	"github.com/teradata-labs/agentforge/pkg/types"
)

// ErrCancelled reports a clean cancellation: the step either did not
// persist or persisted with a cancelled marker.
var ErrCancelled = errors.New("step cancelled")

// OutcomeKind classifies what a step decided.
type OutcomeKind string

const (
	OutcomeContinue      OutcomeKind = "continue"
	OutcomeStageComplete OutcomeKind = "stage_complete"
	OutcomeEscalate      OutcomeKind = "escalate"
	OutcomeCannotFix     OutcomeKind = "cannot_fix"
	OutcomeAborted       OutcomeKind = "aborted"
)

// Outcome is the result of one step.
type Outcome struct {
	Kind OutcomeKind

	// Artifact names the completed stage's output (complete only)
	Artifact string

	// Reason explains escalate and cannot_fix outcomes
	Reason string

	// Step is the persisted step index
	Step int

	Err error
}

// StageIO is what the stage executor knows about the current stage and the
// step executor does not load itself.
type StageIO struct {
	// Inputs maps upstream artifact names to their content
	Inputs map[string]string

	// Violation is the target finding for fix_violation tasks
	Violation *types.Violation

	// FileView is an optional focused code view
	FileView *contextbuilder.FileView

	// Policy is the stage's phase-exit policy
	Policy conformance.PhasePolicy
}

const (
	// DefaultLLMTimeout bounds one completion round trip.
	DefaultLLMTimeout = 5 * time.Minute
	// DefaultLLMRetries bounds retries after LLM failures before escalating.
	DefaultLLMRetries = 2
)

// Executor runs steps for one task at a time. Parallelism happens across
// tasks, never within one.
type Executor struct {
	store   *state.Store
	builder *contextbuilder.Builder
	client  llm.Client
	gate    *conformance.Gate
	logger  *zap.Logger

	llmTimeout time.Duration
	llmRetries int

	// CancelCheck is polled at the two cancellation points; nil means only
	// ctx.Err() is consulted.
	CancelCheck func() bool
}

// New creates an executor.
func New(store *state.Store, builder *contextbuilder.Builder, client llm.Client, gate *conformance.Gate) *Executor {
	return &Executor{
		store:      store,
		builder:    builder,
		client:     client,
		gate:       gate,
		logger:     log.Logger(),
		llmTimeout: DefaultLLMTimeout,
		llmRetries: DefaultLLMRetries,
	}
}

// SetLLMTimeout overrides the per-step LLM timeout.
func (e *Executor) SetLLMTimeout(d time.Duration) {
	if d > 0 {
		e.llmTimeout = d
	}
}

// SetLLMRetries overrides the bounded retry count.
func (e *Executor) SetLLMRetries(n int) {
	if n >= 0 {
		e.llmRetries = n
	}
}

func (e *Executor) cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return e.CancelCheck != nil && e.CancelCheck()
}

// ExecuteStep runs one step for the bound agent instance.
func (e *Executor) ExecuteStep(ctx context.Context, inst *agent.Instance, io *StageIO) (*Outcome, error) {
	if io == nil {
		io = &StageIO{}
	}
	taskID := inst.TaskID

	task, err := e.store.LoadTask(taskID)
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	taskState, err := e.store.LoadState(taskID)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	memory, err := e.store.LoadWorkingMemory(taskID)
	if err != nil {
		return nil, fmt.Errorf("load working memory: %w", err)
	}
	steps, err := e.store.ReadSteps(taskID)
	if err != nil {
		return nil, fmt.Errorf("read steps: %w", err)
	}
	stepNo := len(steps) + 1
	memory.Prune(stepNo)

	artifact, ref, _ := e.store.LatestArtifact(taskID, inst.Stage)
	var artifactName string
	if ref != nil {
		artifactName = fmt.Sprintf("%s v%d", inst.Stage, ref.Version)
	}

	built, err := e.builder.Build(&contextbuilder.Input{
		Task:         task,
		State:        taskState,
		Memory:       memory,
		Steps:        steps,
		SystemPrompt: agent.BuildSystemPrompt(inst.Definition),
		Tools:        toolInfos(inst.Bridge),
		Artifact:     artifact,
		ArtifactName: artifactName,
		StageInputs:  io.Inputs,
		FileView:     io.FileView,
		Violation:    io.Violation,
	})
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}

	resp, llmErr := e.complete(ctx, inst, built)

	// Cancellation point one: between the LLM round trip and dispatch.
	if e.cancelled(ctx) {
		return e.persistCancelled(inst, built, stepNo)
	}

	if llmErr != nil {
		return e.persistLLMFailure(inst, built, stepNo, llmErr)
	}

	record := &state.StepRecord{
		Version:     state.SchemaVersion,
		Step:        stepNo,
		Timestamp:   time.Now().UTC(),
		TaskID:      taskID,
		Stage:       inst.Stage,
		Agent:       inst.Definition.Role(),
		Event:       state.EventStep,
		Usage:       resp.Usage,
		ContextHash: built.Hash,
	}

	outcome := &Outcome{Kind: OutcomeContinue}
	var editedFiles []string
	var diffText string

	for _, call := range resp.ToolCalls {
		record.Actions = append(record.Actions, state.ActionRecord{Tool: call.Name, Input: call.Input})
		result := inst.Bridge.Dispatch(ctx, call)
		record.Results = append(record.Results, resultRecord(result))

		if !result.Success {
			continue
		}
		if written, _ := result.Metadata[bridge.MetaFileWritten].(bool); written {
			if rel, ok := result.Metadata[bridge.MetaPath].(string); ok {
				editedFiles = append(editedFiles, rel)
				diffText += filePatch(result)
			}
		}
		if key, ok := result.Metadata[bridge.MetaMemoryKey].(string); ok {
			content, _ := result.Data.(string)
			pinned, _ := result.Metadata[bridge.MetaMemoryPin].(bool)
			memory.Add(state.MemoryItem{
				Key:       key,
				Content:   content,
				Pinned:    pinned,
				AddedStep: stepNo,
			})
		}
		if terminal, ok := result.Metadata[bridge.MetaTerminal].(string); ok {
			applyTerminal(outcome, terminal, result)
		}
	}

	// Post-edit verification: every successful write triggers the gate.
	var bundle *types.VerificationBundle
	if len(editedFiles) > 0 {
		bundle = e.gate.Verify(ctx, editedFiles)
	}

	// A complete that fails the phase-exit predicate is refused: the agent
	// sees the failing layers next step instead of finishing the stage.
	if outcome.Kind == OutcomeStageComplete {
		latest := bundle
		if latest == nil {
			if st := taskState.Stages[inst.Stage]; st != nil {
				latest = st.Verification
			}
		}
		if !conformance.PhaseExit(latest, io.Policy) {
			record.Results = append(record.Results, state.ResultRecord{
				Success: false,
				Error:   "complete refused: verification has failing layers",
			})
			outcome.Kind = OutcomeContinue
			outcome.Artifact = ""
		}
	}

	if diffText != "" {
		if _, err := e.store.SaveSnapshot(taskID, stepNo, []byte(diffText)); err != nil {
			return nil, fmt.Errorf("save snapshot: %w", err)
		}
		record.DiffHash = state.HashBytes([]byte(diffText))
	}

	// Cancellation point two: dispatch and snapshot already happened, so the
	// full record persists under the cancelled marker. Whatever the step did
	// to the workspace, the ledger accounts for it.
	if e.cancelled(ctx) {
		record.Event = state.EventCancelled
		if err := e.persist(inst, record, bundle, memory, resp.Usage); err != nil {
			return nil, err
		}
		return &Outcome{Kind: OutcomeAborted, Err: ErrCancelled}, ErrCancelled
	}

	if err := e.persist(inst, record, bundle, memory, resp.Usage); err != nil {
		return nil, err
	}
	outcome.Step = record.Step

	e.logger.Debug("step executed",
		zap.String("task", taskID),
		zap.String("stage", inst.Stage),
		zap.Int("step", record.Step),
		zap.String("outcome", string(outcome.Kind)))
	return outcome, nil
}

// complete calls the client with the per-step timeout and bounded retries.
func (e *Executor) complete(ctx context.Context, inst *agent.Instance, built *contextbuilder.Context) (*llm.Response, error) {
	req := &llm.Request{
		System: built.System,
		Messages: []types.Message{
			{Role: "user", Content: built.UserMessage},
		},
		Tools: toolSchemas(inst.Bridge),
	}

	var lastErr error
	for attempt := 0; attempt <= e.llmRetries; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, e.llmTimeout)
		resp, err := e.client.Complete(cctx, req)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("llm call failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, fmt.Errorf("llm failed after %d attempts: %w", e.llmRetries+1, lastErr)
}

func (e *Executor) persist(inst *agent.Instance, record *state.StepRecord, bundle *types.VerificationBundle, memory *state.WorkingMemory, usage types.Usage) error {
	step, err := e.store.AppendStep(inst.TaskID, record)
	if err != nil {
		return fmt.Errorf("append step: %w", err)
	}
	record.Step = step

	if err := e.store.UpdateState(inst.TaskID, func(ts *state.TaskState) error {
		st := ts.Stage(inst.Stage)
		if bundle != nil {
			st.Verification = bundle
		}
		ts.Usage.Add(usage)
		return nil
	}); err != nil {
		return fmt.Errorf("update state: %w", err)
	}

	if err := e.store.SaveWorkingMemory(inst.TaskID, memory); err != nil {
		return fmt.Errorf("save working memory: %w", err)
	}
	return nil
}

// persistCancelled writes a bare cancelled record for cancellation before
// dispatch, when the step has no side effects to account for.
func (e *Executor) persistCancelled(inst *agent.Instance, built *contextbuilder.Context, stepNo int) (*Outcome, error) {
	record := &state.StepRecord{
		Version:     state.SchemaVersion,
		Step:        stepNo,
		Timestamp:   time.Now().UTC(),
		TaskID:      inst.TaskID,
		Stage:       inst.Stage,
		Agent:       inst.Definition.Role(),
		Event:       state.EventCancelled,
		ContextHash: built.Hash,
	}
	if _, err := e.store.AppendStep(inst.TaskID, record); err != nil {
		return nil, fmt.Errorf("persist cancelled step: %w", err)
	}
	return &Outcome{Kind: OutcomeAborted, Err: ErrCancelled}, ErrCancelled
}

// persistLLMFailure records a failed step; the caller applies recovery.
func (e *Executor) persistLLMFailure(inst *agent.Instance, built *contextbuilder.Context, stepNo int, llmErr error) (*Outcome, error) {
	record := &state.StepRecord{
		Version:     state.SchemaVersion,
		Step:        stepNo,
		Timestamp:   time.Now().UTC(),
		TaskID:      inst.TaskID,
		Stage:       inst.Stage,
		Agent:       inst.Definition.Role(),
		Event:       state.EventStep,
		Results:     []state.ResultRecord{{Success: false, Error: llmErr.Error()}},
		ContextHash: built.Hash,
	}
	if _, err := e.store.AppendStep(inst.TaskID, record); err != nil {
		return nil, fmt.Errorf("persist failed step: %w", err)
	}
	return &Outcome{
		Kind:   OutcomeEscalate,
		Reason: fmt.Sprintf("llm failure: %v", llmErr),
		Step:   stepNo,
	}, nil
}

func applyTerminal(outcome *Outcome, terminal string, result *bridge.Result) {
	switch terminal {
	case bridge.ToolComplete:
		outcome.Kind = OutcomeStageComplete
		outcome.Artifact, _ = result.Metadata[bridge.MetaArtifact].(string)
	case bridge.ToolEscalate:
		outcome.Kind = OutcomeEscalate
		outcome.Reason, _ = result.Metadata[bridge.MetaReason].(string)
	case bridge.ToolCannotFix:
		outcome.Kind = OutcomeCannotFix
		outcome.Reason, _ = result.Metadata[bridge.MetaReason].(string)
	}
}

func resultRecord(result *bridge.Result) state.ResultRecord {
	rec := state.ResultRecord{Success: result.Success}
	if result.Error != nil {
		rec.Error = fmt.Sprintf("%s: %s", result.Error.Code, result.Error.Message)
	}
	if s, ok := result.Data.(string); ok && result.Success {
		rec.Summary = summarize(s)
	}
	return rec
}

func summarize(s string) string {
	const maxSummary = 200
	if len(s) > maxSummary {
		return s[:maxSummary]
	}
	return s
}

// filePatch renders the old/new content a file tool reported into a
// unified-style patch for the step snapshot.
func filePatch(result *bridge.Result) string {
	old, _ := result.Metadata[bridge.MetaContentOld].(string)
	updated, _ := result.Metadata[bridge.MetaContentNew].(string)
	path, _ := result.Metadata[bridge.MetaPath].(string)

	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(old, updated)
	return fmt.Sprintf("--- %s\n%s\n", path, dmp.PatchToText(patches))
}

func toolInfos(b *bridge.Bridge) []contextbuilder.ToolInfo {
	var out []contextbuilder.ToolInfo
	for _, t := range b.AllowedTools() {
		out = append(out, contextbuilder.ToolInfo{Name: t.Name(), Description: t.Description()})
	}
	return out
}

func toolSchemas(b *bridge.Bridge) []llm.ToolSchema {
	var out []llm.ToolSchema
	for _, t := range b.AllowedTools() {
		schema := t.InputSchema()
		var m map[string]interface{}
		if schema != nil {
			m = schema.ToMap()
		}
		out = append(out, llm.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: m,
		})
	}
	return out
}

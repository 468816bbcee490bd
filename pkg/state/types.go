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

// Package state implements the durable task state store: one directory per
// task holding the immutable task document, the mutable pipeline state, the
// append-only action ledger, working memory, content-addressed artifacts,
// diff snapshots and escalations. The store is the single source of truth;
// every other component holds ids and loaded copies.
package state

import (
	"time"

	"github.com/teradata-labs/agentforge/pkg/types"
)

// Document schema version written into every persisted file.
const SchemaVersion = 1

// GoalType classifies what a task is trying to achieve. It selects the
// current-state schema the context builder uses.
type GoalType string

const (
	GoalFixViolation     GoalType = "fix_violation"
	GoalImplementFeature GoalType = "implement_feature"
	GoalWriteTests       GoalType = "write_tests"
	GoalDesign           GoalType = "design"
)

// Valid reports whether g is a known goal type.
func (g GoalType) Valid() bool {
	switch g {
	case GoalFixViolation, GoalImplementFeature, GoalWriteTests, GoalDesign:
		return true
	}
	return false
}

// Task is the immutable identity of one pipeline run. Everything mutable
// lives in TaskState.
type Task struct {
	Version    int       `yaml:"version"`
	ID         string    `yaml:"id"`
	Request    string    `yaml:"request"`
	GoalType   GoalType  `yaml:"goal_type"`
	Template   string    `yaml:"template"`
	EntryStage string    `yaml:"entry_stage,omitempty"`
	ExitStage  string    `yaml:"exit_stage,omitempty"`
	CreatedAt  time.Time `yaml:"created_at"`

	// CodebaseFingerprint records the workspace fingerprint at creation.
	// Task composition compares it against the current fingerprint to
	// refuse stale imports.
	CodebaseFingerprint string `yaml:"codebase_fingerprint,omitempty"`
}

// TaskStatus is the task-level lifecycle.
type TaskStatus string

const (
	TaskRunning          TaskStatus = "running"
	TaskAwaitingDecision TaskStatus = "awaiting_decision"
	TaskEscalated        TaskStatus = "escalated"
	TaskCompleted        TaskStatus = "completed"
	TaskFailed           TaskStatus = "failed"
	TaskCancelled        TaskStatus = "cancelled"
)

// StageStatus is the per-stage state machine. A stage leaves completed only
// after its output artifact passed contract validation and all blocking
// reviewers returned no blocking issues.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageIterating StageStatus = "iterating"
	StageReviewing StageStatus = "reviewing"
	StageApproved  StageStatus = "approved"
	StageCompleted StageStatus = "completed"
	StageEscalated StageStatus = "escalated"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// Terminal reports whether the status ends the stage.
func (s StageStatus) Terminal() bool {
	switch s {
	case StageCompleted, StageEscalated, StageFailed, StageSkipped:
		return true
	}
	return false
}

// FeedbackEntry is structured revision input attached to a stage: user
// iteration feedback, contract validation errors, or reviewer blocking
// issues.
type FeedbackEntry struct {
	// Source is one of user, contract, reviewer
	Source    string    `yaml:"source"`
	Text      string    `yaml:"text"`
	Iteration int       `yaml:"iteration"`
	CreatedAt time.Time `yaml:"created_at"`
}

// StageState is the mutable record of one (task, stage).
type StageState struct {
	Name      string      `yaml:"name"`
	Status    StageStatus `yaml:"status"`
	Agent     string      `yaml:"agent,omitempty"`
	Iteration int         `yaml:"iteration"`

	// ArtifactHash points at the stage's current output artifact.
	ArtifactHash string `yaml:"artifact_hash,omitempty"`

	// ArtifactVersion counts artifact revisions presented for iteration.
	ArtifactVersion int `yaml:"artifact_version,omitempty"`

	Feedback []FeedbackEntry      `yaml:"feedback,omitempty"`
	Reviews  []types.ReviewRecord `yaml:"reviews,omitempty"`

	// ValidationHash records the external artifact hash when the stage was
	// skipped by an admitted external.
	ValidationHash string `yaml:"validation_hash,omitempty"`

	// Verification is the latest post-edit bundle for this stage.
	Verification *types.VerificationBundle `yaml:"verification,omitempty"`

	Error string `yaml:"error,omitempty"`

	StartedAt *time.Time `yaml:"started_at,omitempty"`
	EndedAt   *time.Time `yaml:"ended_at,omitempty"`
}

// DecisionRequest is emitted when an iterable stage presents an artifact and
// the task suspends until the user decides.
type DecisionRequest struct {
	Stage        string    `yaml:"stage"`
	ArtifactHash string    `yaml:"artifact_hash"`
	Version      int       `yaml:"version"`
	PresentedAt  time.Time `yaml:"presented_at"`
}

// UserDecision is the answer to a DecisionRequest, written by the CLI and
// consumed on resume.
type UserDecision struct {
	Decision types.Decision `yaml:"decision"`
	Feedback string         `yaml:"feedback,omitempty"`

	// ExtendTemplate names the follow-on template for extend decisions.
	ExtendTemplate string    `yaml:"extend_template,omitempty"`
	DecidedAt      time.Time `yaml:"decided_at"`
}

// ExternalImport records an admitted external artifact.
type ExternalImport struct {
	Contract   string    `yaml:"contract"`
	Stage      string    `yaml:"stage"`
	Hash       string    `yaml:"hash"`
	Source     string    `yaml:"source"`
	ImportedAt time.Time `yaml:"imported_at"`
}

// TaskState is the mutable pipeline state for one task, persisted as
// state.yaml and rewritten atomically under the task lock.
type TaskState struct {
	Version      int        `yaml:"version"`
	TaskID       string     `yaml:"task_id"`
	Status       TaskStatus `yaml:"status"`
	CurrentStage string     `yaml:"current_stage,omitempty"`

	// StageOrder is the planned execution order after entry/exit/skip
	// resolution, including stages appended by extend decisions.
	StageOrder []string               `yaml:"stage_order,omitempty"`
	Stages     map[string]*StageState `yaml:"stages,omitempty"`

	PendingDecision   *DecisionRequest `yaml:"pending_decision,omitempty"`
	Decision          *UserDecision    `yaml:"decision,omitempty"`
	PendingEscalation string           `yaml:"pending_escalation,omitempty"`

	// Resolution carries a resolved escalation's text until the next step
	// consumes it as a structured context field.
	Resolution string `yaml:"resolution,omitempty"`

	Imports []ExternalImport `yaml:"imports,omitempty"`

	// Usage accumulates across all steps of the task.
	Usage types.Usage `yaml:"usage"`

	// Supervised requests human approval after every stage.
	Supervised bool `yaml:"supervised,omitempty"`

	UpdatedAt time.Time `yaml:"updated_at"`
}

// Stage returns the state for the named stage, creating it in pending
// status when absent.
func (ts *TaskState) Stage(name string) *StageState {
	if ts.Stages == nil {
		ts.Stages = make(map[string]*StageState)
	}
	st, ok := ts.Stages[name]
	if !ok {
		st = &StageState{Name: name, Status: StagePending}
		ts.Stages[name] = st
	}
	return st
}

// Audit event types. EventStep is an ordinary executor turn; the remainder
// are pipeline lifecycle events.
const (
	EventStep               = "step"
	EventStageTransition    = "stage_transition"
	EventIterationPresented = "iteration_presented"
	EventUserDecision       = "user_decision"
	EventExternalImported   = "external_artifact_imported"
	EventReviewVerdict      = "review_verdict"
	EventPipelineExit       = "pipeline_exit"
	EventEscalationCreated  = "escalation_created"
	EventEscalationResolved = "escalation_resolved"
	EventCancelled          = "cancelled"
)

// ActionRecord is the tool invocation part of a step record.
type ActionRecord struct {
	Tool  string                 `yaml:"tool"`
	Input map[string]interface{} `yaml:"input,omitempty"`
}

// ResultRecord is the outcome part of a step record.
type ResultRecord struct {
	Success bool   `yaml:"success"`
	Summary string `yaml:"summary,omitempty"`
	Error   string `yaml:"error,omitempty"`
}

// StepRecord is one immutable entry in the per-task action ledger. Step
// indices are 1-based and contiguous.
type StepRecord struct {
	Version   int       `yaml:"version"`
	Step      int       `yaml:"step"`
	Timestamp time.Time `yaml:"timestamp"`
	TaskID    string    `yaml:"task_id"`
	Stage     string    `yaml:"stage,omitempty"`
	Agent     string    `yaml:"agent,omitempty"`
	Event     string    `yaml:"event"`

	Actions []ActionRecord `yaml:"actions,omitempty"`
	Results []ResultRecord `yaml:"results,omitempty"`

	Usage       types.Usage `yaml:"usage,omitempty"`
	ContextHash string      `yaml:"context_hash,omitempty"`
	DiffHash    string      `yaml:"diff_hash,omitempty"`

	// Detail carries event-specific payload (decision, artifact hash,
	// transition endpoints). Keys are event-defined.
	Detail map[string]interface{} `yaml:"detail,omitempty"`
}

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
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/agentforge/internal/log"
	"github.com/teradata-labs/agentforge/pkg/agent"
	"github.com/teradata-labs/agentforge/pkg/bridge"
	"github.com/teradata-labs/agentforge/pkg/contract"
	"github.com/teradata-labs/agentforge/pkg/escalation"
	"github.com/teradata-labs/agentforge/pkg/executor"
	"github.com/teradata-labs/agentforge/pkg/state"
)

const (
	// DefaultMaxSteps caps the steps one stage execution may take.
	DefaultMaxSteps = 100

	// DefaultMaxRevisions caps contract/review revision rounds before
	// escalating.
	DefaultMaxRevisions = 3
)

// ErrStepBudgetExhausted reports a stage that hit its step cap.
var ErrStepBudgetExhausted = errors.New("stage step budget exhausted")

// StageResult is the terminal outcome of one stage execution.
type StageResult struct {
	Status state.StageStatus

	// Artifact is the validated stage output (completed only).
	Artifact []byte
	Ref      *state.ArtifactRef

	// Reason explains escalated and failed results.
	Reason string

	// EscalationID points at the created escalation, if any.
	EscalationID string
}

// StageExecutor loops the step executor for one stage until the stage
// terminates: validated completion, escalation, failure, or budget
// exhaustion.
type StageExecutor struct {
	store       *state.Store
	agents      *agent.Registry
	contracts   *contract.Registry
	tools       *bridge.Registry
	exec        *executor.Executor
	escalations *escalation.Manager
	workspace   string
	logger      *zap.Logger

	MaxSteps     int
	MaxRevisions int
}

// NewStageExecutor wires a stage executor over its collaborators.
func NewStageExecutor(store *state.Store, agents *agent.Registry, contracts *contract.Registry,
	tools *bridge.Registry, exec *executor.Executor, escalations *escalation.Manager,
	workspace string) *StageExecutor {
	return &StageExecutor{
		store:        store,
		agents:       agents,
		contracts:    contracts,
		tools:        tools,
		exec:         exec,
		escalations:  escalations,
		workspace:    workspace,
		logger:       log.Logger(),
		MaxSteps:     DefaultMaxSteps,
		MaxRevisions: DefaultMaxRevisions,
	}
}

// RunStage executes one stage to a terminal result. Cancellation surfaces
// as executor.ErrCancelled with no result.
func (se *StageExecutor) RunStage(ctx context.Context, task *state.Task, stage *Stage, io *executor.StageIO) (*StageResult, error) {
	def, err := se.agents.Get(stage.Agent)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", stage.Name, err)
	}

	var iteration int
	if err := se.store.UpdateState(task.ID, func(ts *state.TaskState) error {
		st := ts.Stage(stage.Name)
		if st.StartedAt == nil {
			now := time.Now().UTC()
			st.StartedAt = &now
		}
		st.Status = state.StageRunning
		st.Agent = stage.Agent
		iteration = st.Iteration
		ts.CurrentStage = stage.Name
		ts.Status = state.TaskRunning
		return nil
	}); err != nil {
		return nil, err
	}

	if io == nil {
		io = &executor.StageIO{}
	}
	inst := agent.NewInstance(def, task.ID, stage.Name, iteration, se.tools, se.workspace)
	revisions := 0

	for step := 0; step < se.MaxSteps; step++ {
		out, err := se.exec.ExecuteStep(ctx, inst, io)
		if err != nil {
			if errors.Is(err, executor.ErrCancelled) {
				return nil, err
			}
			return nil, fmt.Errorf("stage %s: %w", stage.Name, err)
		}

		switch out.Kind {
		case executor.OutcomeContinue:
			continue

		case executor.OutcomeStageComplete:
			content, err := se.readArtifact(out.Artifact)
			if err != nil {
				return nil, fmt.Errorf("stage %s artifact: %w", stage.Name, err)
			}
			result, err := se.contracts.Validate(content, stage.OutputContract)
			if err != nil {
				return nil, fmt.Errorf("stage %s: %w", stage.Name, err)
			}
			if result.Passed {
				return se.finishCompleted(task.ID, stage.Name, content, out.Step)
			}

			revisions++
			iteration++
			if revisions > se.MaxRevisions {
				reason := fmt.Sprintf("artifact failed contract %s after %d revisions: %s",
					stage.OutputContract, se.MaxRevisions, strings.Join(result.Errors, "; "))
				return se.escalate(task.ID, stage.Name, reason, content)
			}
			if err := se.recordFeedback(task.ID, stage.Name, "contract",
				strings.Join(result.Errors, "\n"), iteration); err != nil {
				return nil, err
			}
			inst = agent.NewInstance(def, task.ID, stage.Name, iteration, se.tools, se.workspace)
			se.logger.Info("revision round",
				zap.String("task", task.ID),
				zap.String("stage", stage.Name),
				zap.Int("revision", revisions))

		case executor.OutcomeEscalate:
			return se.escalate(task.ID, stage.Name, out.Reason, nil)

		case executor.OutcomeCannotFix:
			return se.fail(task.ID, stage.Name, out.Reason)
		}
	}

	return se.escalate(task.ID, stage.Name,
		fmt.Sprintf("%v (%d steps)", ErrStepBudgetExhausted, se.MaxSteps), nil)
}

// readArtifact resolves a complete call's artifact parameter: a workspace
// path when the file exists, otherwise inline content.
func (se *StageExecutor) readArtifact(artifact string) ([]byte, error) {
	if artifact == "" {
		return nil, fmt.Errorf("empty artifact")
	}
	rel := filepath.Clean(artifact)
	path := filepath.Join(se.workspace, rel)
	if strings.HasPrefix(path, filepath.Clean(se.workspace)+string(os.PathSeparator)) {
		if data, err := os.ReadFile(path); err == nil { // #nosec G304 -- confined above
			return data, nil
		}
	}
	return []byte(artifact), nil
}

func (se *StageExecutor) finishCompleted(taskID, stageName string, content []byte, step int) (*StageResult, error) {
	ref, err := se.store.SaveArtifact(taskID, stageName, content, step)
	if err != nil {
		return nil, fmt.Errorf("save artifact: %w", err)
	}
	if err := se.store.UpdateState(taskID, func(ts *state.TaskState) error {
		st := ts.Stage(stageName)
		st.ArtifactHash = ref.Hash
		st.ArtifactVersion = ref.Version
		return nil
	}); err != nil {
		return nil, err
	}
	return &StageResult{
		Status:   state.StageCompleted,
		Artifact: content,
		Ref:      ref,
	}, nil
}

func (se *StageExecutor) recordFeedback(taskID, stageName, source, text string, iteration int) error {
	return se.store.UpdateState(taskID, func(ts *state.TaskState) error {
		st := ts.Stage(stageName)
		st.Iteration = iteration
		st.Feedback = append(st.Feedback, state.FeedbackEntry{
			Source:    source,
			Text:      text,
			Iteration: iteration,
			CreatedAt: time.Now().UTC(),
		})
		return nil
	})
}

// escalate creates the escalation and marks the stage; the task suspends.
func (se *StageExecutor) escalate(taskID, stageName, reason string, snapshot []byte) (*StageResult, error) {
	esc, err := se.escalations.Create(taskID, stageName, reason, snapshot)
	if err != nil {
		return nil, fmt.Errorf("create escalation: %w", err)
	}
	if err := se.store.UpdateState(taskID, func(ts *state.TaskState) error {
		st := ts.Stage(stageName)
		st.Status = state.StageEscalated
		st.Error = reason
		return nil
	}); err != nil {
		return nil, err
	}
	se.logger.Warn("stage escalated",
		zap.String("task", taskID),
		zap.String("stage", stageName),
		zap.String("escalation", esc.ID),
		zap.String("reason", reason))
	return &StageResult{
		Status:       state.StageEscalated,
		Reason:       reason,
		EscalationID: esc.ID,
	}, nil
}

func (se *StageExecutor) fail(taskID, stageName, reason string) (*StageResult, error) {
	now := time.Now().UTC()
	if err := se.store.UpdateState(taskID, func(ts *state.TaskState) error {
		st := ts.Stage(stageName)
		st.Status = state.StageFailed
		st.Error = reason
		st.EndedAt = &now
		return nil
	}); err != nil {
		return nil, err
	}
	return &StageResult{Status: state.StageFailed, Reason: reason}, nil
}

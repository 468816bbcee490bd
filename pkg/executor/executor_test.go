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
package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/agentforge/pkg/agent"
	"github.com/teradata-labs/agentforge/pkg/bridge"
	"github.com/teradata-labs/agentforge/pkg/conformance"
	"github.com/teradata-labs/agentforge/pkg/contextbuilder"
	"github.com/teradata-labs/agentforge/pkg/llm"
	"github.com/teradata-labs/agentforge/pkg/llm/simulated"
	"github.com/teradata-labs/agentforge/pkg/state"
	"github.com/teradata-labs/agentforge/pkg/types"
)

type harness struct {
	store    *state.Store
	exec     *Executor
	instance *agent.Instance
	taskID   string
	root     string
}

func testDefinition() *agent.Definition {
	return &agent.Definition{
		APIVersion: "agentforge/v1",
		Kind:       "Agent",
		Metadata:   agent.Metadata{Name: "implementer"},
		Spec: agent.Spec{
			Identity: "You implement features.",
			Capabilities: agent.Capabilities{
				Tools: agent.Tools{
					Allowed: []string{
						"read_file", "write_file", "edit_file", "load_context",
						"complete", "escalate", "cannot_fix",
					},
				},
				Output: agent.Output{Contract: "code_change"},
			},
		},
	}
}

func newHarness(t *testing.T, script string) *harness {
	t.Helper()
	stateDir := t.TempDir()
	workspace := t.TempDir()

	store, err := state.NewStore(stateDir)
	require.NoError(t, err)

	task := &state.Task{
		ID:       state.NewTaskID(),
		Request:  "add a retry helper",
		GoalType: state.GoalImplementFeature,
		Template: "feature",
	}
	require.NoError(t, store.CreateTask(task))
	require.NoError(t, store.UpdateState(task.ID, func(ts *state.TaskState) error {
		ts.CurrentStage = "implement"
		ts.Stage("implement").Status = state.StageRunning
		return nil
	}))

	rules, err := conformance.ParseRuleSet([]byte("version: 1\n"))
	require.NoError(t, err)
	gate, err := conformance.NewGate(workspace, rules, "")
	require.NoError(t, err)

	registry := bridge.NewRegistry()
	bridge.RegisterBuiltins(registry, workspace, gate)

	inst := agent.NewInstance(testDefinition(), task.ID, "implement", 0, registry, workspace)

	client, err := simulated.Parse([]byte(script))
	require.NoError(t, err)

	return &harness{
		store:    store,
		exec:     New(store, contextbuilder.New(nil), client, gate),
		instance: inst,
		taskID:   task.ID,
		root:     workspace,
	}
}

func TestExecuteStep_WriteThenContinue(t *testing.T) {
	h := newHarness(t, `steps:
  - content: writing the helper
    tool_calls:
      - name: write_file
        input:
          path: retry.go
          content: "package retry\n"
`)
	outcome, err := h.exec.ExecuteStep(context.Background(), h.instance, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinue, outcome.Kind)
	assert.Equal(t, 1, outcome.Step)

	data, err := os.ReadFile(filepath.Join(h.root, "retry.go"))
	require.NoError(t, err)
	assert.Equal(t, "package retry\n", string(data))

	steps, err := h.store.ReadSteps(h.taskID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, state.EventStep, steps[0].Event)
	require.Len(t, steps[0].Actions, 1)
	assert.Equal(t, "write_file", steps[0].Actions[0].Tool)
	assert.True(t, steps[0].Results[0].Success)
	assert.NotEmpty(t, steps[0].ContextHash)
	assert.NotEmpty(t, steps[0].DiffHash)

	// The write triggered verification; the bundle lands in stage state.
	ts, err := h.store.LoadState(h.taskID)
	require.NoError(t, err)
	require.NotNil(t, ts.Stages["implement"].Verification)
	assert.True(t, ts.Stages["implement"].Verification.Passed())

	// The diff snapshot is reconstructable.
	snap, err := h.store.LoadSnapshot(h.taskID, 1)
	require.NoError(t, err)
	assert.Contains(t, string(snap), "retry.go")
}

func TestExecuteStep_CompleteOutcome(t *testing.T) {
	h := newHarness(t, `steps:
  - tool_calls:
      - name: complete
        input:
          artifact: retry.go
          summary: helper added
`)
	outcome, err := h.exec.ExecuteStep(context.Background(), h.instance, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStageComplete, outcome.Kind)
	assert.Equal(t, "retry.go", outcome.Artifact)
}

func TestExecuteStep_CompleteRefusedOnFailingVerification(t *testing.T) {
	h := newHarness(t, `steps:
  - tool_calls:
      - name: complete
        input:
          artifact: retry.go
`)
	require.NoError(t, h.store.UpdateState(h.taskID, func(ts *state.TaskState) error {
		ts.Stage("implement").Verification = failingBundle()
		return nil
	}))

	outcome, err := h.exec.ExecuteStep(context.Background(), h.instance, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinue, outcome.Kind, "complete must be refused while checks fail")

	steps, err := h.store.ReadSteps(h.taskID)
	require.NoError(t, err)
	last := steps[len(steps)-1]
	refused := last.Results[len(last.Results)-1]
	assert.False(t, refused.Success)
	assert.Contains(t, refused.Error, "refused")
}

func TestExecuteStep_EscalateOutcome(t *testing.T) {
	h := newHarness(t, `steps:
  - tool_calls:
      - name: escalate
        input:
          reason: generated file cannot be edited
`)
	outcome, err := h.exec.ExecuteStep(context.Background(), h.instance, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalate, outcome.Kind)
	assert.Equal(t, "generated file cannot be edited", outcome.Reason)
}

func TestExecuteStep_PolicyViolationIsResultNotError(t *testing.T) {
	h := newHarness(t, `steps:
  - tool_calls:
      - name: run_tests
        input: {}
`)
	// run_tests is not in the agent's allow-list.
	outcome, err := h.exec.ExecuteStep(context.Background(), h.instance, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinue, outcome.Kind)

	steps, err := h.store.ReadSteps(h.taskID)
	require.NoError(t, err)
	require.Len(t, steps[0].Results, 1)
	assert.False(t, steps[0].Results[0].Success)
	assert.Contains(t, steps[0].Results[0].Error, bridge.CodePolicyViolation)
}

func TestExecuteStep_LoadContextPinsMemory(t *testing.T) {
	h := newHarness(t, `steps:
  - tool_calls:
      - name: load_context
        input:
          path: notes.md
          key: design-notes
`)
	require.NoError(t, os.WriteFile(filepath.Join(h.root, "notes.md"), []byte("retry three times"), 0o640))

	_, err := h.exec.ExecuteStep(context.Background(), h.instance, nil)
	require.NoError(t, err)

	mem, err := h.store.LoadWorkingMemory(h.taskID)
	require.NoError(t, err)
	item, ok := mem.Get("design-notes")
	require.True(t, ok)
	assert.True(t, item.Pinned)
	assert.Equal(t, "retry three times", item.Content)
}

func TestExecuteStep_CancelledBeforeDispatch(t *testing.T) {
	h := newHarness(t, `steps:
  - tool_calls:
      - name: write_file
        input:
          path: should_not_exist.go
          content: "x"
`)
	h.exec.CancelCheck = func() bool { return true }

	_, err := h.exec.ExecuteStep(context.Background(), h.instance, nil)
	assert.ErrorIs(t, err, ErrCancelled)

	// The write never happened and the cancelled marker persisted.
	_, statErr := os.Stat(filepath.Join(h.root, "should_not_exist.go"))
	assert.True(t, os.IsNotExist(statErr))

	steps, err := h.store.ReadSteps(h.taskID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, state.EventCancelled, steps[0].Event)
}

func TestExecuteStep_CancelledAfterDispatchKeepsFullRecord(t *testing.T) {
	h := newHarness(t, `steps:
  - tool_calls:
      - name: write_file
        input:
          path: retry.go
          content: "package retry\n"
`)
	// The first poll (before dispatch) passes; the second (before persist)
	// cancels. The write has already landed by then.
	polls := 0
	h.exec.CancelCheck = func() bool {
		polls++
		return polls == 2
	}

	_, err := h.exec.ExecuteStep(context.Background(), h.instance, nil)
	assert.ErrorIs(t, err, ErrCancelled)

	data, err := os.ReadFile(filepath.Join(h.root, "retry.go"))
	require.NoError(t, err)
	assert.Equal(t, "package retry\n", string(data))

	// The cancelled record still carries the dispatched action, its result
	// and the diff hash, so replay sees the workspace mutation.
	steps, err := h.store.ReadSteps(h.taskID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, state.EventCancelled, steps[0].Event)
	require.Len(t, steps[0].Actions, 1)
	assert.Equal(t, "write_file", steps[0].Actions[0].Tool)
	require.Len(t, steps[0].Results, 1)
	assert.True(t, steps[0].Results[0].Success)
	assert.NotEmpty(t, steps[0].DiffHash)

	// The verification bundle from the edit persisted too.
	ts, err := h.store.LoadState(h.taskID)
	require.NoError(t, err)
	require.NotNil(t, ts.Stages["implement"].Verification)
}

func TestExecuteStep_LLMFailureEscalates(t *testing.T) {
	h := newHarness(t, "steps: []\n")
	h.exec.client = failingClient{}
	h.exec.SetLLMRetries(1)

	outcome, err := h.exec.ExecuteStep(context.Background(), h.instance, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalate, outcome.Kind)
	assert.Contains(t, outcome.Reason, "llm failure")

	steps, err := h.store.ReadSteps(h.taskID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.False(t, steps[0].Results[0].Success)
}

type failingClient struct{}

func (failingClient) Complete(context.Context, *llm.Request) (*llm.Response, error) {
	return nil, assert.AnError
}
func (failingClient) Name() string  { return "failing" }
func (failingClient) Model() string { return "failing" }

func failingBundle() *types.VerificationBundle {
	return &types.VerificationBundle{
		Layers: map[string]types.LayerResult{
			types.LayerSecurity: {Passed: false, Violations: []types.Violation{
				{CheckID: "security/secrets", Severity: "error"},
			}},
		},
	}
}

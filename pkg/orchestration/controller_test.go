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
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/agentforge/pkg/agent"
	"github.com/teradata-labs/agentforge/pkg/bridge"
	"github.com/teradata-labs/agentforge/pkg/conformance"
	"github.com/teradata-labs/agentforge/pkg/contextbuilder"
	"github.com/teradata-labs/agentforge/pkg/contract"
	"github.com/teradata-labs/agentforge/pkg/escalation"
	"github.com/teradata-labs/agentforge/pkg/executor"
	"github.com/teradata-labs/agentforge/pkg/llm/simulated"
	"github.com/teradata-labs/agentforge/pkg/state"
	"github.com/teradata-labs/agentforge/pkg/types"
)

const designContract = `apiVersion: agentforge/v1
kind: Contract
metadata:
  name: design_doc
spec:
  schema:
    type: object
    required: [summary]
    properties:
      summary:
        type: string
`

const looseContract = `apiVersion: agentforge/v1
kind: Contract
metadata:
  name: %s
spec:
  schema: {}
`

func agentYAML(role, outputContract string) []byte {
	return []byte(fmt.Sprintf(`apiVersion: agentforge/v1
kind: Agent
metadata:
  name: %s
spec:
  identity: You produce stage artifacts.
  capabilities:
    tools:
      allowed: [read_file, write_file, edit_file, load_context, complete, escalate, cannot_fix]
    output:
      contract: %s
`, role, outputContract))
}

func templateYAML(name, body string) []byte {
	return []byte(fmt.Sprintf(`apiVersion: agentforge/v1
kind: Template
metadata:
  name: %s
spec:
%s`, name, body))
}

type pipeline struct {
	store       *state.Store
	contracts   *contract.Registry
	agents      *agent.Registry
	templates   *TemplateRegistry
	escalations *escalation.Manager
	stages      *StageExecutor
	ctrl        *Controller
	workspace   string
}

// newPipeline wires the full stack over a simulated LLM script.
func newPipeline(t *testing.T, script string) *pipeline {
	t.Helper()
	stateDir := t.TempDir()
	workspace := t.TempDir()

	store, err := state.NewStore(stateDir)
	require.NoError(t, err)

	contracts := contract.NewRegistry()
	require.NoError(t, contracts.Register([]byte(designContract)))
	require.NoError(t, contracts.Register([]byte(fmt.Sprintf(looseContract, "code_change"))))
	require.NoError(t, contracts.Register([]byte(fmt.Sprintf(looseContract, "review"))))

	agents := agent.NewRegistry(contracts, nil)
	require.NoError(t, agents.Register(agentYAML("designer", "design_doc"), "designer.yaml"))
	require.NoError(t, agents.Register(agentYAML("implementer", "code_change"), "implementer.yaml"))
	require.NoError(t, agents.Register(agentYAML("architect", "review"), "architect.yaml"))

	rules, err := conformance.ParseRuleSet([]byte("version: 1\n"))
	require.NoError(t, err)
	gate, err := conformance.NewGate(workspace, rules, "")
	require.NoError(t, err)

	tools := bridge.NewRegistry()
	bridge.RegisterBuiltins(tools, workspace, gate)

	client, err := simulated.Parse([]byte(script))
	require.NoError(t, err)
	exec := executor.New(store, contextbuilder.New(nil), client, gate)

	escalations := escalation.NewManager(store)
	stages := NewStageExecutor(store, agents, contracts, tools, exec, escalations, workspace)
	templates := NewTemplateRegistry(agents, contracts)
	ctrl := NewController(store, templates, stages, workspace)

	return &pipeline{
		store:       store,
		contracts:   contracts,
		agents:      agents,
		templates:   templates,
		escalations: escalations,
		stages:      stages,
		ctrl:        ctrl,
		workspace:   workspace,
	}
}

func (p *pipeline) register(t *testing.T, name, body string) {
	t.Helper()
	require.NoError(t, p.templates.Register(templateYAML(name, body), name+".yaml"))
}

const singleDesignStage = `  stages:
    - name: design
      agent: designer
      output_contract: design_doc
`

func (p *pipeline) start(t *testing.T, opts *StartOptions) *state.Task {
	t.Helper()
	task, err := p.ctrl.StartTask(context.Background(), opts)
	require.NoError(t, err)
	return task
}

func events(t *testing.T, store *state.Store, taskID string) []string {
	t.Helper()
	steps, err := store.ReadSteps(taskID)
	require.NoError(t, err)
	var out []string
	for _, s := range steps {
		out = append(out, s.Event)
	}
	return out
}

func TestController_RunSingleStageToCompletion(t *testing.T) {
	p := newPipeline(t, `steps:
  - tool_calls:
      - name: write_file
        input:
          path: design.yaml
          content: "summary: retry helper design\n"
  - tool_calls:
      - name: complete
        input:
          artifact: design.yaml
`)
	p.register(t, "design", singleDesignStage)

	task := p.start(t, &StartOptions{
		Request:  "design a retry helper",
		GoalType: state.GoalDesign,
		Template: "design",
	})

	require.NoError(t, p.ctrl.Run(context.Background(), task.ID))

	ts, err := p.store.LoadState(task.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, ts.Status)
	assert.Equal(t, state.StageCompleted, ts.Stages["design"].Status)
	assert.NotEmpty(t, ts.Stages["design"].ArtifactHash)

	content, _, err := p.store.LatestArtifact(task.ID, "design")
	require.NoError(t, err)
	assert.Contains(t, string(content), "retry helper design")

	evs := events(t, p.store, task.ID)
	assert.Contains(t, evs, state.EventStageTransition)
	assert.Equal(t, state.EventPipelineExit, evs[len(evs)-1])
}

func TestController_TwoStageHandoff(t *testing.T) {
	p := newPipeline(t, `steps:
  - tool_calls:
      - name: write_file
        input:
          path: design.yaml
          content: "summary: split the parser\n"
  - tool_calls:
      - name: complete
        input:
          artifact: design.yaml
  - tool_calls:
      - name: write_file
        input:
          path: parser.go
          content: "package parser\n"
  - tool_calls:
      - name: complete
        input:
          artifact: parser.go
`)
	p.register(t, "feature", `  stages:
    - name: design
      agent: designer
      output_contract: design_doc
    - name: implement
      agent: implementer
      input_contract: design_doc
      output_contract: code_change
`)

	task := p.start(t, &StartOptions{
		Request:  "split the parser",
		GoalType: state.GoalImplementFeature,
		Template: "feature",
	})
	require.NoError(t, p.ctrl.Run(context.Background(), task.ID))

	ts, err := p.store.LoadState(task.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, ts.Status)
	assert.Equal(t, state.StageCompleted, ts.Stages["design"].Status)
	assert.Equal(t, state.StageCompleted, ts.Stages["implement"].Status)

	// One handoff per stage, each carrying the artifact hash.
	steps, err := p.store.ReadSteps(task.ID)
	require.NoError(t, err)
	var transitions []state.StepRecord
	for _, s := range steps {
		if s.Event == state.EventStageTransition {
			transitions = append(transitions, s)
		}
	}
	require.Len(t, transitions, 2)
	assert.Equal(t, "implement", transitions[0].Detail["to"])
	assert.NotEmpty(t, transitions[0].Detail["artifact_hash"])
}

func TestController_ContractRevisionLoop(t *testing.T) {
	p := newPipeline(t, `steps:
  - tool_calls:
      - name: write_file
        input:
          path: design.yaml
          content: "title: missing the summary field\n"
  - tool_calls:
      - name: complete
        input:
          artifact: design.yaml
  - tool_calls:
      - name: write_file
        input:
          path: design.yaml
          content: "summary: now conforming\n"
  - tool_calls:
      - name: complete
        input:
          artifact: design.yaml
`)
	p.register(t, "design", singleDesignStage)

	task := p.start(t, &StartOptions{
		Request:  "design it",
		GoalType: state.GoalDesign,
		Template: "design",
	})
	require.NoError(t, p.ctrl.Run(context.Background(), task.ID))

	ts, err := p.store.LoadState(task.ID)
	require.NoError(t, err)
	st := ts.Stages["design"]
	assert.Equal(t, state.StageCompleted, st.Status)
	assert.Equal(t, 1, st.Iteration)
	require.NotEmpty(t, st.Feedback)
	assert.Equal(t, "contract", st.Feedback[0].Source)
	assert.Contains(t, st.Feedback[0].Text, "summary")
}

func TestController_RevisionExhaustionEscalates(t *testing.T) {
	// Four failing completes: initial plus MaxRevisions retries.
	script := "steps:\n"
	for i := 0; i < 4; i++ {
		script += `  - tool_calls:
      - name: complete
        input:
          artifact: "title: never conforms"
`
	}
	p := newPipeline(t, script)
	p.register(t, "design", singleDesignStage)

	task := p.start(t, &StartOptions{
		Request:  "design it",
		GoalType: state.GoalDesign,
		Template: "design",
	})
	err := p.ctrl.Run(context.Background(), task.ID)
	assert.ErrorIs(t, err, ErrEscalationPending)

	ts, err := p.store.LoadState(task.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskEscalated, ts.Status)
	assert.Equal(t, state.StageEscalated, ts.Stages["design"].Status)

	pending, err := p.escalations.Pending(task.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Contains(t, pending[0].Reason, "failed contract")
}

func TestController_IterableStageDecisionFlow(t *testing.T) {
	p := newPipeline(t, `steps:
  - tool_calls:
      - name: complete
        input:
          artifact: "summary: first draft"
  - tool_calls:
      - name: complete
        input:
          artifact: "summary: second draft"
`)
	p.register(t, "design", `  stages:
    - name: design
      agent: designer
      output_contract: design_doc
      iterable: true
`)

	task := p.start(t, &StartOptions{
		Request:  "design it",
		GoalType: state.GoalDesign,
		Template: "design",
	})

	err := p.ctrl.Run(context.Background(), task.ID)
	assert.ErrorIs(t, err, ErrAwaitingDecision)

	ts, err := p.store.LoadState(task.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskAwaitingDecision, ts.Status)
	require.NotNil(t, ts.PendingDecision)
	assert.Equal(t, "design", ts.PendingDecision.Stage)
	assert.Contains(t, events(t, p.store, task.ID), state.EventIterationPresented)

	// Revise: feedback lands on the stage and it re-runs.
	require.NoError(t, p.ctrl.Decide(task.ID, &state.UserDecision{
		Decision: types.DecisionRevise,
		Feedback: "cover the timeout case",
	}))
	err = p.ctrl.Run(context.Background(), task.ID)
	assert.ErrorIs(t, err, ErrAwaitingDecision)

	ts, err = p.store.LoadState(task.ID)
	require.NoError(t, err)
	st := ts.Stages["design"]
	assert.Equal(t, 1, st.Iteration)
	require.NotEmpty(t, st.Feedback)
	assert.Equal(t, "user", st.Feedback[0].Source)
	assert.Equal(t, 2, ts.PendingDecision.Version)

	// Approve: the stage completes and the pipeline exits.
	require.NoError(t, p.ctrl.Decide(task.ID, &state.UserDecision{
		Decision: types.DecisionApprove,
	}))
	require.NoError(t, p.ctrl.Run(context.Background(), task.ID))

	ts, err = p.store.LoadState(task.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, ts.Status)
	assert.Equal(t, state.StageCompleted, ts.Stages["design"].Status)

	evs := events(t, p.store, task.ID)
	assert.Contains(t, evs, state.EventUserDecision)
}

func TestController_ExitDecisionEndsEarly(t *testing.T) {
	p := newPipeline(t, `steps:
  - tool_calls:
      - name: complete
        input:
          artifact: "summary: good enough"
`)
	p.register(t, "feature", `  stages:
    - name: design
      agent: designer
      output_contract: design_doc
      iterable: true
    - name: implement
      agent: implementer
      output_contract: code_change
`)

	task := p.start(t, &StartOptions{
		Request:  "feature",
		GoalType: state.GoalImplementFeature,
		Template: "feature",
	})
	err := p.ctrl.Run(context.Background(), task.ID)
	assert.ErrorIs(t, err, ErrAwaitingDecision)

	require.NoError(t, p.ctrl.Decide(task.ID, &state.UserDecision{Decision: types.DecisionExit}))
	require.NoError(t, p.ctrl.Run(context.Background(), task.ID))

	ts, err := p.store.LoadState(task.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, ts.Status)
	// The second stage never ran.
	if st, ok := ts.Stages["implement"]; ok {
		assert.Equal(t, state.StagePending, st.Status)
	}
}

func TestController_BlockingReviewSendsStageBack(t *testing.T) {
	p := newPipeline(t, `steps:
  - tool_calls:
      - name: complete
        input:
          artifact: "summary: first attempt"
  - tool_calls:
      - name: complete
        input:
          artifact: "issues:\n  - severity: blocking\n    description: missing failure modes\n"
  - tool_calls:
      - name: complete
        input:
          artifact: "summary: second attempt with failure modes"
  - tool_calls:
      - name: complete
        input:
          artifact: "issues: []"
`)
	p.register(t, "design", `  stages:
    - name: design
      agent: designer
      output_contract: design_doc
      reviewers:
        - role: architect
          mode: blocking
`)

	task := p.start(t, &StartOptions{
		Request:  "design it",
		GoalType: state.GoalDesign,
		Template: "design",
	})
	require.NoError(t, p.ctrl.Run(context.Background(), task.ID))

	ts, err := p.store.LoadState(task.ID)
	require.NoError(t, err)
	st := ts.Stages["design"]
	assert.Equal(t, state.StageCompleted, st.Status)
	require.Len(t, st.Reviews, 2)
	assert.True(t, st.Reviews[0].HasBlocking())
	assert.False(t, st.Reviews[1].HasBlocking())

	var reviewerFeedback bool
	for _, f := range st.Feedback {
		if f.Source == "reviewer" {
			reviewerFeedback = true
			assert.Contains(t, f.Text, "missing failure modes")
		}
	}
	assert.True(t, reviewerFeedback)

	evs := events(t, p.store, task.ID)
	var verdicts int
	for _, ev := range evs {
		if ev == state.EventReviewVerdict {
			verdicts++
		}
	}
	assert.Equal(t, 2, verdicts)
}

func TestController_AdvisoryReviewNeverBlocks(t *testing.T) {
	p := newPipeline(t, `steps:
  - tool_calls:
      - name: complete
        input:
          artifact: "summary: fine"
  - tool_calls:
      - name: complete
        input:
          artifact: "issues:\n  - severity: blocking\n    description: nitpick\n"
`)
	p.register(t, "design", `  stages:
    - name: design
      agent: designer
      output_contract: design_doc
      reviewers:
        - role: architect
          mode: advisory
`)

	task := p.start(t, &StartOptions{
		Request:  "design it",
		GoalType: state.GoalDesign,
		Template: "design",
	})
	require.NoError(t, p.ctrl.Run(context.Background(), task.ID))

	ts, err := p.store.LoadState(task.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StageCompleted, ts.Stages["design"].Status)
	require.Len(t, ts.Stages["design"].Reviews, 1)
}

func TestController_ExternalAdmissionSkipsStage(t *testing.T) {
	p := newPipeline(t, `steps:
  - tool_calls:
      - name: complete
        input:
          artifact: "implemented per the imported design"
`)
	p.register(t, "feature", `  stages:
    - name: design
      agent: designer
      output_contract: design_doc
    - name: implement
      agent: implementer
      input_contract: design_doc
      output_contract: code_change
  accepts_external:
    design_doc: design
`)

	extPath := filepath.Join(t.TempDir(), "design.yaml")
	require.NoError(t, os.WriteFile(extPath, []byte("summary: externally authored design\n"), 0o640))

	task := p.start(t, &StartOptions{
		Request:   "implement the imported design",
		GoalType:  state.GoalImplementFeature,
		Template:  "feature",
		Externals: []External{{Path: extPath, Contract: "design_doc"}},
	})

	ts, err := p.store.LoadState(task.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StageSkipped, ts.Stages["design"].Status)
	assert.NotEmpty(t, ts.Stages["design"].ValidationHash)
	require.Len(t, ts.Imports, 1)
	assert.Equal(t, "design_doc", ts.Imports[0].Contract)
	assert.Contains(t, events(t, p.store, task.ID), state.EventExternalImported)

	require.NoError(t, p.ctrl.Run(context.Background(), task.ID))
	ts, err = p.store.LoadState(task.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, ts.Status)
	assert.Equal(t, state.StageCompleted, ts.Stages["implement"].Status)
}

func TestController_AdmissionRefusalCreatesNoTask(t *testing.T) {
	p := newPipeline(t, "steps: []\n")
	p.register(t, "feature", `  stages:
    - name: design
      agent: designer
      output_contract: design_doc
  accepts_external:
    design_doc: design
`)

	extPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(extPath, []byte("title: no summary here\n"), 0o640))

	_, err := p.ctrl.StartTask(context.Background(), &StartOptions{
		Request:   "r",
		GoalType:  state.GoalImplementFeature,
		Template:  "feature",
		Externals: []External{{Path: extPath, Contract: "design_doc"}},
	})
	assert.ErrorIs(t, err, ErrAdmissionRefused)

	tasks, err := p.store.ListTasks()
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestController_EscalationSuspendsAndResumes(t *testing.T) {
	p := newPipeline(t, `steps:
  - tool_calls:
      - name: escalate
        input:
          reason: requirements are contradictory
  - tool_calls:
      - name: complete
        input:
          artifact: "summary: resolved per guidance"
`)
	p.register(t, "design", singleDesignStage)

	task := p.start(t, &StartOptions{
		Request:  "design it",
		GoalType: state.GoalDesign,
		Template: "design",
	})

	err := p.ctrl.Run(context.Background(), task.ID)
	assert.ErrorIs(t, err, ErrEscalationPending)

	pending, err := p.escalations.Pending(task.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "requirements are contradictory", pending[0].Reason)

	_, err = p.escalations.Resolve(task.ID, pending[0].ID, "drop the second requirement")
	require.NoError(t, err)

	require.NoError(t, p.ctrl.Run(context.Background(), task.ID))
	ts, err := p.store.LoadState(task.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, ts.Status)
	assert.Equal(t, "drop the second requirement", ts.Resolution)
}

func TestController_SkipIfGoal(t *testing.T) {
	p := newPipeline(t, `steps:
  - tool_calls:
      - name: complete
        input:
          artifact: "summary: design only"
`)
	p.register(t, "feature", `  stages:
    - name: design
      agent: designer
      output_contract: design_doc
    - name: implement
      agent: implementer
      output_contract: code_change
      skip_if: "goal:design"
`)

	task := p.start(t, &StartOptions{
		Request:  "just the design",
		GoalType: state.GoalDesign,
		Template: "feature",
	})
	require.NoError(t, p.ctrl.Run(context.Background(), task.ID))

	ts, err := p.store.LoadState(task.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, ts.Status)
	assert.Equal(t, state.StageSkipped, ts.Stages["implement"].Status)
}

func TestController_FromTaskStaleRefused(t *testing.T) {
	p := newPipeline(t, `steps:
  - tool_calls:
      - name: complete
        input:
          artifact: "summary: prior design"
`)
	p.register(t, "design", singleDesignStage)
	p.register(t, "feature", `  stages:
    - name: design
      agent: designer
      output_contract: design_doc
    - name: implement
      agent: implementer
      output_contract: code_change
  accepts_external:
    design_doc: design
`)

	prior := p.start(t, &StartOptions{
		Request:  "design it",
		GoalType: state.GoalDesign,
		Template: "design",
	})
	require.NoError(t, p.ctrl.Run(context.Background(), prior.ID))

	// Workspace drift after the prior task completed.
	require.NoError(t, os.WriteFile(filepath.Join(p.workspace, "drift.go"), []byte("package drift\n"), 0o640))

	_, err := p.ctrl.StartTask(context.Background(), &StartOptions{
		Request:  "implement it",
		GoalType: state.GoalImplementFeature,
		Template: "feature",
		FromTask: prior.ID,
	})
	assert.ErrorIs(t, err, ErrStaleExternal)
}

func TestController_FromTaskImportsDeliverable(t *testing.T) {
	p := newPipeline(t, `steps:
  - tool_calls:
      - name: complete
        input:
          artifact: "summary: prior design"
  - tool_calls:
      - name: complete
        input:
          artifact: "implemented"
`)
	p.register(t, "design", singleDesignStage)
	p.register(t, "feature", `  stages:
    - name: design
      agent: designer
      output_contract: design_doc
    - name: implement
      agent: implementer
      output_contract: code_change
  accepts_external:
    design_doc: design
`)

	prior := p.start(t, &StartOptions{
		Request:  "design it",
		GoalType: state.GoalDesign,
		Template: "design",
	})
	require.NoError(t, p.ctrl.Run(context.Background(), prior.ID))

	task := p.start(t, &StartOptions{
		Request:  "implement it",
		GoalType: state.GoalImplementFeature,
		Template: "feature",
		FromTask: prior.ID,
	})
	ts, err := p.store.LoadState(task.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StageSkipped, ts.Stages["design"].Status)

	require.NoError(t, p.ctrl.Run(context.Background(), task.ID))
	ts, err = p.store.LoadState(task.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, ts.Status)
}

func TestController_SupervisedPresentsEveryStage(t *testing.T) {
	p := newPipeline(t, `steps:
  - tool_calls:
      - name: complete
        input:
          artifact: "summary: supervised design"
`)
	p.register(t, "design", singleDesignStage)

	task := p.start(t, &StartOptions{
		Request:    "design it",
		GoalType:   state.GoalDesign,
		Template:   "design",
		Supervised: true,
	})

	err := p.ctrl.Run(context.Background(), task.ID)
	assert.ErrorIs(t, err, ErrAwaitingDecision)

	require.NoError(t, p.ctrl.Decide(task.ID, &state.UserDecision{Decision: types.DecisionApprove}))
	require.NoError(t, p.ctrl.Run(context.Background(), task.ID))

	ts, err := p.store.LoadState(task.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskCompleted, ts.Status)
}

func TestRunner_ParallelTasksSuspendIndependently(t *testing.T) {
	p := newPipeline(t, `patterns:
  - match: ".*"
    regex: true
    response:
      tool_calls:
        - name: complete
          input:
            artifact: "summary: pattern-driven design"
`)
	p.register(t, "design", singleDesignStage)

	a := p.start(t, &StartOptions{Request: "one", GoalType: state.GoalDesign, Template: "design"})
	b := p.start(t, &StartOptions{Request: "two", GoalType: state.GoalDesign, Template: "design"})

	results, err := NewRunner(p.ctrl, 2).RunAll(context.Background(), []string{a.ID, b.ID})
	require.NoError(t, err)
	assert.NoError(t, results[a.ID])
	assert.NoError(t, results[b.ID])

	for _, id := range []string{a.ID, b.ID} {
		ts, err := p.store.LoadState(id)
		require.NoError(t, err)
		assert.Equal(t, state.TaskCompleted, ts.Status)
	}
}

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
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/agentforge/internal/log"
	"github.com/teradata-labs/agentforge/pkg/agent"
	"github.com/teradata-labs/agentforge/pkg/conformance"
	"github.com/teradata-labs/agentforge/pkg/executor"
	"github.com/teradata-labs/agentforge/pkg/state"
	"github.com/teradata-labs/agentforge/pkg/types"
)

// Suspension and refusal sentinels. The first two are not failures: the
// task is parked waiting for a human.
var (
	ErrAwaitingDecision  = errors.New("task awaits a user decision")
	ErrEscalationPending = errors.New("task has a pending escalation")
	ErrAdmissionRefused  = errors.New("external artifact refused admission")
	ErrStaleExternal     = errors.New("imported artifact is stale")
	ErrStageFailed       = errors.New("stage failed")
)

// DefaultMaxIterations caps user-driven revise rounds per stage.
const DefaultMaxIterations = 5

// violationDoc is the per-task record of the target finding for
// fix_violation tasks.
const violationDoc = "violation.yaml"

// External is one user-provided artifact offered at task start.
type External struct {
	Path     string
	Contract string
}

// StartOptions parameterizes task creation.
type StartOptions struct {
	Request  string
	GoalType state.GoalType
	Template string

	// Entry and Exit pick a window of the template; empty means the
	// template defaults.
	Entry string
	Exit  string

	Supervised bool

	Externals []External

	// FromTask imports the named prior task's deliverable as an external.
	FromTask string

	// Violation is the target finding for fix_violation tasks.
	Violation *types.Violation
}

// Controller sequences one task's stages: admission, execution, reviews,
// iteration decisions and handoffs.
type Controller struct {
	store     *state.Store
	templates *TemplateRegistry
	stages    *StageExecutor
	workspace string
	logger    *zap.Logger

	MaxIterations int
}

// NewController wires a controller. The stage executor carries the agent
// and contract registries.
func NewController(store *state.Store, templates *TemplateRegistry, stages *StageExecutor, workspace string) *Controller {
	return &Controller{
		store:         store,
		templates:     templates,
		stages:        stages,
		workspace:     workspace,
		logger:        log.Logger(),
		MaxIterations: DefaultMaxIterations,
	}
}

// StartTask admits externals, plans the stage order and creates the task.
// Admission failure refuses the whole pipeline with ErrAdmissionRefused
// before any task state exists.
func (c *Controller) StartTask(ctx context.Context, opts *StartOptions) (*state.Task, error) {
	if !opts.GoalType.Valid() {
		return nil, fmt.Errorf("unknown goal type %q", opts.GoalType)
	}
	tmpl, err := c.templates.Get(opts.Template)
	if err != nil {
		return nil, err
	}
	plan, err := tmpl.Plan(opts.Entry, opts.Exit)
	if err != nil {
		return nil, err
	}

	externals := opts.Externals
	if opts.FromTask != "" {
		ext, err := c.importFromTask(opts.FromTask)
		if err != nil {
			return nil, err
		}
		externals = append(externals, *ext)
	}

	admitted, err := c.admit(externals, tmpl)
	if err != nil {
		return nil, err
	}

	fingerprint, err := state.Fingerprint(c.workspace)
	if err != nil {
		return nil, fmt.Errorf("fingerprint workspace: %w", err)
	}

	task := &state.Task{
		ID:                  state.NewTaskID(),
		Request:             opts.Request,
		GoalType:            opts.GoalType,
		Template:            opts.Template,
		EntryStage:          opts.Entry,
		ExitStage:           opts.Exit,
		CreatedAt:           time.Now().UTC(),
		CodebaseFingerprint: fingerprint,
	}
	if err := c.store.CreateTask(task); err != nil {
		return nil, err
	}
	if opts.Violation != nil {
		if err := c.store.WriteDoc(task.ID, violationDoc, opts.Violation); err != nil {
			return nil, err
		}
	}

	if err := c.store.UpdateState(task.ID, func(ts *state.TaskState) error {
		ts.StageOrder = plan
		ts.Supervised = opts.Supervised
		return nil
	}); err != nil {
		return nil, err
	}

	for _, adm := range admitted {
		if err := c.applyImport(task.ID, adm); err != nil {
			return nil, err
		}
	}

	if err := c.applySkips(task.ID, tmpl); err != nil {
		return nil, err
	}

	c.logger.Info("task started",
		zap.String("task", task.ID),
		zap.String("template", opts.Template),
		zap.Strings("stages", plan))
	return task, nil
}

// admittedExternal is a validated external bound to its target stage.
type admittedExternal struct {
	contract string
	stage    string
	source   string
	content  []byte
	hash     string
}

// admit validates every external against its declared contract. Any
// failure refuses the pipeline.
func (c *Controller) admit(externals []External, tmpl *Template) ([]admittedExternal, error) {
	var admitted []admittedExternal
	for _, ext := range externals {
		stageName, ok := tmpl.Spec.AcceptsExternal[ext.Contract]
		if !ok {
			return nil, fmt.Errorf("%w: template %s accepts no external for contract %q",
				ErrAdmissionRefused, tmpl.Name(), ext.Contract)
		}
		content, err := os.ReadFile(ext.Path) // #nosec G304 -- user-supplied import path
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrAdmissionRefused, ext.Path, err)
		}
		result, err := c.stages.contracts.Validate(content, ext.Contract)
		if err != nil {
			return nil, err
		}
		if !result.Passed {
			return nil, fmt.Errorf("%w: %s against %s: %v",
				ErrAdmissionRefused, ext.Path, ext.Contract, result.Errors)
		}
		admitted = append(admitted, admittedExternal{
			contract: ext.Contract,
			stage:    stageName,
			source:   ext.Path,
			content:  content,
			hash:     result.ArtifactHash,
		})
	}
	return admitted, nil
}

// importFromTask turns a prior task's deliverable into an external,
// refusing when the recorded codebase fingerprint no longer matches.
func (c *Controller) importFromTask(fromID string) (*External, error) {
	prior, err := c.store.LoadTask(fromID)
	if err != nil {
		return nil, fmt.Errorf("from-task %s: %w", fromID, err)
	}

	current, err := state.Fingerprint(c.workspace)
	if err != nil {
		return nil, fmt.Errorf("fingerprint workspace: %w", err)
	}
	if prior.CodebaseFingerprint != "" && prior.CodebaseFingerprint != current {
		return nil, fmt.Errorf("%w: task %s was produced against a different codebase (fingerprint %s, now %s)",
			ErrStaleExternal, fromID, prior.CodebaseFingerprint, current)
	}

	priorState, err := c.store.LoadState(fromID)
	if err != nil {
		return nil, err
	}
	priorTmpl, err := c.templates.Get(prior.Template)
	if err != nil {
		return nil, err
	}

	// The deliverable is the last completed stage's artifact.
	var deliverable string
	for i := len(priorState.StageOrder) - 1; i >= 0; i-- {
		name := priorState.StageOrder[i]
		if st, ok := priorState.Stages[name]; ok && st.Status == state.StageCompleted {
			deliverable = name
			break
		}
	}
	if deliverable == "" {
		return nil, fmt.Errorf("from-task %s: no completed stage to import", fromID)
	}

	content, _, err := c.store.LatestArtifact(fromID, deliverable)
	if err != nil {
		return nil, fmt.Errorf("from-task %s: %w", fromID, err)
	}
	stage, ok := priorTmpl.Stage(deliverable)
	if !ok {
		return nil, fmt.Errorf("from-task %s: stage %s missing from template %s", fromID, deliverable, prior.Template)
	}

	// Stash the artifact so admission can treat it like any file import.
	tmp, err := os.CreateTemp("", "forge-import-*.yaml")
	if err != nil {
		return nil, err
	}
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	return &External{Path: tmp.Name(), Contract: stage.OutputContract}, nil
}

// applyImport stores the admitted artifact as the target stage's output and
// marks the stage skipped.
func (c *Controller) applyImport(taskID string, adm admittedExternal) error {
	ref, err := c.store.SaveArtifact(taskID, adm.stage, adm.content, 0)
	if err != nil {
		return err
	}
	if err := c.store.UpdateState(taskID, func(ts *state.TaskState) error {
		st := ts.Stage(adm.stage)
		st.Status = state.StageSkipped
		st.ValidationHash = adm.hash
		st.ArtifactHash = ref.Hash
		st.ArtifactVersion = ref.Version
		ts.Imports = append(ts.Imports, state.ExternalImport{
			Contract:   adm.contract,
			Stage:      adm.stage,
			Hash:       adm.hash,
			Source:     adm.source,
			ImportedAt: time.Now().UTC(),
		})
		return nil
	}); err != nil {
		return err
	}
	return c.appendEvent(taskID, adm.stage, state.EventExternalImported, map[string]interface{}{
		"contract": adm.contract,
		"hash":     adm.hash,
		"source":   adm.source,
	})
}

// applySkips evaluates skip_if predicates and validates that no skipped
// stage is a prerequisite of a later executed stage.
func (c *Controller) applySkips(taskID string, tmpl *Template) error {
	task, err := c.store.LoadTask(taskID)
	if err != nil {
		return err
	}
	ts, err := c.store.LoadState(taskID)
	if err != nil {
		return err
	}

	skipped := map[string]bool{}
	for name, st := range ts.Stages {
		if st.Status == state.StageSkipped {
			skipped[name] = true
		}
	}
	for _, name := range ts.StageOrder {
		stage, ok := tmpl.Stage(name)
		if !ok || stage.SkipIf == "" || skipped[name] {
			continue
		}
		if skipMatches(stage.SkipIf, task, ts) {
			skipped[name] = true
			if err := c.store.UpdateState(taskID, func(ts *state.TaskState) error {
				ts.Stage(name).Status = state.StageSkipped
				return nil
			}); err != nil {
				return err
			}
		}
	}

	// A skipped stage without an imported artifact must not feed a later
	// executed stage.
	outputs := map[string]string{}
	for _, name := range ts.StageOrder {
		if stage, ok := tmpl.Stage(name); ok {
			outputs[stage.OutputContract] = name
		}
	}
	for _, name := range ts.StageOrder {
		stage, ok := tmpl.Stage(name)
		if !ok || skipped[name] || stage.InputContract == "" {
			continue
		}
		producer, ok := outputs[stage.InputContract]
		if !ok || !skipped[producer] {
			continue
		}
		if st := ts.Stages[producer]; st == nil || st.ArtifactHash == "" {
			return fmt.Errorf("stage %s consumes %s from skipped stage %s which left no artifact",
				name, stage.InputContract, producer)
		}
	}
	return nil
}

// skipMatches evaluates one skip_if predicate.
func skipMatches(expr string, task *state.Task, ts *state.TaskState) bool {
	kind, arg, err := parseSkipIf(expr)
	if err != nil {
		return false
	}
	switch kind {
	case "external":
		for _, imp := range ts.Imports {
			if imp.Contract == arg {
				return true
			}
		}
	case "goal":
		return string(task.GoalType) == arg
	}
	return false
}

// Decide records a user decision for the pending request. The task resumes
// on the next Run.
func (c *Controller) Decide(taskID string, decision *state.UserDecision) error {
	if !decision.Decision.Valid() {
		return fmt.Errorf("unknown decision %q", decision.Decision)
	}
	decision.DecidedAt = time.Now().UTC()
	return c.store.UpdateState(taskID, func(ts *state.TaskState) error {
		if ts.PendingDecision == nil {
			return fmt.Errorf("task %s has no pending decision", taskID)
		}
		if decision.Decision == types.DecisionExtend && decision.ExtendTemplate == "" {
			return fmt.Errorf("extend decision needs a template")
		}
		ts.Decision = decision
		return nil
	})
}

// Run advances the task until it completes, suspends, or fails. Suspension
// surfaces as ErrAwaitingDecision or ErrEscalationPending; both leave the
// task resumable.
func (c *Controller) Run(ctx context.Context, taskID string) error {
	task, err := c.store.LoadTask(taskID)
	if err != nil {
		return err
	}
	tmpl, err := c.templates.Get(task.Template)
	if err != nil {
		return err
	}

	reviewRounds := map[string]int{}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ts, err := c.store.LoadState(taskID)
		if err != nil {
			return err
		}

		switch ts.Status {
		case state.TaskCompleted, state.TaskFailed, state.TaskCancelled:
			return nil
		case state.TaskEscalated:
			return ErrEscalationPending
		}
		if ts.PendingEscalation != "" {
			return ErrEscalationPending
		}

		if ts.PendingDecision != nil {
			if ts.Decision == nil {
				return ErrAwaitingDecision
			}
			if err := c.applyDecision(task, tmpl, ts); err != nil {
				return err
			}
			continue
		}

		name := nextStage(ts)
		if name == "" {
			return c.finishPipeline(taskID, ts)
		}
		stage, ok := tmpl.Stage(name)
		if !ok {
			return fmt.Errorf("stage %s not in template %s", name, task.Template)
		}

		io, err := c.stageIO(task, ts, tmpl, stage)
		if err != nil {
			return err
		}
		res, err := c.stages.RunStage(ctx, task, stage, io)
		if err != nil {
			if errors.Is(err, executor.ErrCancelled) {
				return c.suspendCancelled(taskID, err)
			}
			return err
		}

		switch res.Status {
		case state.StageEscalated:
			return ErrEscalationPending

		case state.StageFailed:
			if uerr := c.store.UpdateState(taskID, func(ts *state.TaskState) error {
				ts.Status = state.TaskFailed
				return nil
			}); uerr != nil {
				return uerr
			}
			if eerr := c.appendEvent(taskID, name, state.EventPipelineExit, map[string]interface{}{
				"status": string(state.TaskFailed),
				"reason": res.Reason,
			}); eerr != nil {
				return eerr
			}
			return fmt.Errorf("%w: %s: %s", ErrStageFailed, name, res.Reason)

		case state.StageCompleted:
			done, err := c.handleCompleted(ctx, task, tmpl, stage, res, reviewRounds)
			if err != nil {
				return err
			}
			if !done {
				continue
			}
		}
	}
}

// handleCompleted runs reviews and the iteration checkpoint for a stage
// whose artifact passed its contract. It returns done=false when the stage
// must re-run (blocking review issues).
func (c *Controller) handleCompleted(ctx context.Context, task *state.Task, tmpl *Template,
	stage *Stage, res *StageResult, reviewRounds map[string]int) (bool, error) {

	if len(stage.Reviewers) > 0 {
		blocked, err := c.runReviews(ctx, task, stage, res, reviewRounds)
		if err != nil || blocked {
			return false, err
		}
	}

	ts, err := c.store.LoadState(task.ID)
	if err != nil {
		return false, err
	}
	if stage.Iterable || ts.Supervised {
		return true, c.presentIteration(task.ID, stage.Name, res)
	}
	return true, c.completeStage(task.ID, tmpl, stage.Name, res.Ref)
}

// runReviews executes every configured reviewer. Blocking issues feed the
// primary agent as revision input and re-run the stage; exhausted rounds
// escalate. The returned bool reports whether the stage was sent back.
func (c *Controller) runReviews(ctx context.Context, task *state.Task, stage *Stage,
	res *StageResult, reviewRounds map[string]int) (bool, error) {

	var blockingTexts []string
	for _, rev := range stage.Reviewers {
		record, err := c.runReview(ctx, task, stage, rev, res)
		if err != nil {
			return false, err
		}

		if uerr := c.store.UpdateState(task.ID, func(ts *state.TaskState) error {
			st := ts.Stage(stage.Name)
			st.Status = state.StageReviewing
			st.Reviews = append(st.Reviews, *record)
			return nil
		}); uerr != nil {
			return false, uerr
		}
		if eerr := c.appendEvent(task.ID, stage.Name, state.EventReviewVerdict, map[string]interface{}{
			"reviewer":      rev.Role,
			"mode":          rev.EffectiveMode(),
			"blocking":      len(record.BlockingIssues()),
			"advisory":      len(record.Issues) - len(record.BlockingIssues()),
			"artifact_hash": record.ArtifactHash,
		}); eerr != nil {
			return false, eerr
		}

		if rev.EffectiveMode() != ModeBlocking || !record.HasBlocking() {
			continue
		}
		for _, issue := range record.BlockingIssues() {
			blockingTexts = append(blockingTexts, fmt.Sprintf("[%s] %s", rev.Role, issue.Description))
		}
	}

	if len(blockingTexts) == 0 {
		return false, nil
	}

	reviewRounds[stage.Name]++
	if reviewRounds[stage.Name] > c.stages.MaxRevisions {
		reason := fmt.Sprintf("review rejected %d times: %s",
			c.stages.MaxRevisions, blockingTexts[0])
		if _, err := c.stages.escalate(task.ID, stage.Name, reason, res.Artifact); err != nil {
			return false, err
		}
		return false, ErrEscalationPending
	}

	var iteration int
	if err := c.store.UpdateState(task.ID, func(ts *state.TaskState) error {
		st := ts.Stage(stage.Name)
		st.Iteration++
		iteration = st.Iteration
		st.Status = state.StagePending
		for _, text := range blockingTexts {
			st.Feedback = append(st.Feedback, state.FeedbackEntry{
				Source:    "reviewer",
				Text:      text,
				Iteration: iteration,
				CreatedAt: time.Now().UTC(),
			})
		}
		return nil
	}); err != nil {
		return false, err
	}
	c.logger.Info("review sent stage back",
		zap.String("task", task.ID),
		zap.String("stage", stage.Name),
		zap.Int("round", reviewRounds[stage.Name]))
	return true, nil
}

// reviewReport is the artifact shape a reviewer completes with.
type reviewReport struct {
	Issues []types.ReviewIssue `yaml:"issues"`
}

// runReview executes one reviewer as a bounded stage-like invocation whose
// input is the artifact under review and whose output is a review report.
func (c *Controller) runReview(ctx context.Context, task *state.Task, stage *Stage,
	rev Reviewer, res *StageResult) (*types.ReviewRecord, error) {

	def, err := c.stages.agents.Get(rev.Role)
	if err != nil {
		return nil, err
	}
	reviewStage := stage.Name + ".review." + rev.Role
	inst := agent.NewInstance(def, task.ID, reviewStage, 0, c.stages.tools, c.workspace)
	io := &executor.StageIO{Inputs: map[string]string{stage.Name: string(res.Artifact)}}

	for step := 0; step < c.stages.MaxSteps; step++ {
		out, err := c.stages.exec.ExecuteStep(ctx, inst, io)
		if err != nil {
			return nil, err
		}
		switch out.Kind {
		case executor.OutcomeContinue:
			continue
		case executor.OutcomeStageComplete:
			content, err := c.stages.readArtifact(out.Artifact)
			if err != nil {
				return nil, err
			}
			var report reviewReport
			if err := yaml.Unmarshal(content, &report); err != nil {
				return nil, fmt.Errorf("reviewer %s produced an unreadable report: %w", rev.Role, err)
			}
			return &types.ReviewRecord{
				Reviewer:     rev.Role,
				ArtifactHash: res.Ref.Hash,
				Issues:       report.Issues,
				CreatedAt:    time.Now().UTC(),
			}, nil
		default:
			return nil, fmt.Errorf("reviewer %s did not complete: %s (%s)", rev.Role, out.Kind, out.Reason)
		}
	}
	return nil, fmt.Errorf("reviewer %s: %w", rev.Role, ErrStepBudgetExhausted)
}

// presentIteration suspends the task with the artifact pending a user
// decision.
func (c *Controller) presentIteration(taskID, stageName string, res *StageResult) error {
	now := time.Now().UTC()
	if err := c.store.UpdateState(taskID, func(ts *state.TaskState) error {
		st := ts.Stage(stageName)
		st.Status = state.StageIterating
		ts.Status = state.TaskAwaitingDecision
		ts.PendingDecision = &state.DecisionRequest{
			Stage:        stageName,
			ArtifactHash: res.Ref.Hash,
			Version:      res.Ref.Version,
			PresentedAt:  now,
		}
		return nil
	}); err != nil {
		return err
	}
	if err := c.appendEvent(taskID, stageName, state.EventIterationPresented, map[string]interface{}{
		"artifact_hash": res.Ref.Hash,
		"version":       res.Ref.Version,
	}); err != nil {
		return err
	}
	return ErrAwaitingDecision
}

// applyDecision consumes a recorded user decision.
func (c *Controller) applyDecision(task *state.Task, tmpl *Template, ts *state.TaskState) error {
	req := ts.PendingDecision
	decision := ts.Decision
	stageName := req.Stage

	if err := c.appendEvent(task.ID, stageName, state.EventUserDecision, map[string]interface{}{
		"decision":      string(decision.Decision),
		"artifact_hash": req.ArtifactHash,
		"version":       req.Version,
	}); err != nil {
		return err
	}

	consume := func(mutate func(*state.TaskState) error) error {
		return c.store.UpdateState(task.ID, func(ts *state.TaskState) error {
			ts.PendingDecision = nil
			ts.Decision = nil
			ts.Status = state.TaskRunning
			if mutate != nil {
				return mutate(ts)
			}
			return nil
		})
	}

	switch decision.Decision {
	case types.DecisionApprove:
		if err := c.store.UpdateArtifactStatus(task.ID, stageName, req.Version, "approved"); err != nil {
			return err
		}
		if err := consume(func(ts *state.TaskState) error {
			ts.Stage(stageName).Status = state.StageApproved
			return nil
		}); err != nil {
			return err
		}
		ref := &state.ArtifactRef{Stage: stageName, Version: req.Version, Hash: req.ArtifactHash}
		return c.completeStage(task.ID, tmpl, stageName, ref)

	case types.DecisionRevise:
		return consume(func(ts *state.TaskState) error {
			st := ts.Stage(stageName)
			st.Iteration++
			if st.Iteration > c.MaxIterations {
				return fmt.Errorf("stage %s exceeded %d user iterations", stageName, c.MaxIterations)
			}
			st.Status = state.StagePending
			st.Feedback = append(st.Feedback, state.FeedbackEntry{
				Source:    "user",
				Text:      decision.Feedback,
				Iteration: st.Iteration,
				CreatedAt: time.Now().UTC(),
			})
			return nil
		})

	case types.DecisionReject:
		return consume(func(ts *state.TaskState) error {
			prev := previousCompleted(ts, stageName)
			ts.Stage(stageName).Status = state.StagePending
			if prev != "" {
				ts.Stage(prev).Status = state.StagePending
			}
			return nil
		})

	case types.DecisionExit:
		if err := c.store.UpdateArtifactStatus(task.ID, stageName, req.Version, "final"); err != nil {
			return err
		}
		if err := consume(func(ts *state.TaskState) error {
			ts.Stage(stageName).Status = state.StageCompleted
			ts.Status = state.TaskCompleted
			return nil
		}); err != nil {
			return err
		}
		return c.appendEvent(task.ID, stageName, state.EventPipelineExit, map[string]interface{}{
			"status":   string(state.TaskCompleted),
			"early":    true,
			"artifact": req.ArtifactHash,
		})

	case types.DecisionExtend:
		follow, err := c.templates.Get(decision.ExtendTemplate)
		if err != nil {
			return err
		}
		if err := c.store.UpdateArtifactStatus(task.ID, stageName, req.Version, "approved"); err != nil {
			return err
		}
		if err := consume(func(ts *state.TaskState) error {
			ts.Stage(stageName).Status = state.StageApproved
			existing := map[string]bool{}
			for _, name := range ts.StageOrder {
				existing[name] = true
			}
			for _, st := range follow.Spec.Stages {
				if !existing[st.Name] {
					ts.StageOrder = append(ts.StageOrder, st.Name)
				}
			}
			return nil
		}); err != nil {
			return err
		}
		ref := &state.ArtifactRef{Stage: stageName, Version: req.Version, Hash: req.ArtifactHash}
		return c.completeStage(task.ID, tmpl, stageName, ref)
	}
	return fmt.Errorf("unknown decision %q", decision.Decision)
}

// completeStage finalizes the stage and appends the handoff event.
func (c *Controller) completeStage(taskID string, tmpl *Template, stageName string, ref *state.ArtifactRef) error {
	now := time.Now().UTC()
	var next string
	if err := c.store.UpdateState(taskID, func(ts *state.TaskState) error {
		st := ts.Stage(stageName)
		st.Status = state.StageCompleted
		st.EndedAt = &now
		next = nextStage(ts)
		return nil
	}); err != nil {
		return err
	}
	detail := map[string]interface{}{
		"from":          stageName,
		"to":            next,
		"artifact_hash": ref.Hash,
	}
	return c.appendEvent(taskID, stageName, state.EventStageTransition, detail)
}

// finishPipeline marks the task completed once no stage remains.
func (c *Controller) finishPipeline(taskID string, ts *state.TaskState) error {
	if err := c.store.UpdateState(taskID, func(ts *state.TaskState) error {
		ts.Status = state.TaskCompleted
		ts.CurrentStage = ""
		return nil
	}); err != nil {
		return err
	}
	last := ""
	if n := len(ts.StageOrder); n > 0 {
		last = ts.StageOrder[n-1]
	}
	return c.appendEvent(taskID, last, state.EventPipelineExit, map[string]interface{}{
		"status": string(state.TaskCompleted),
	})
}

func (c *Controller) suspendCancelled(taskID string, cause error) error {
	if err := c.store.UpdateState(taskID, func(ts *state.TaskState) error {
		ts.Status = state.TaskCancelled
		return nil
	}); err != nil {
		return err
	}
	return cause
}

// Resume puts a cancelled task back into running so Run picks it up.
func (c *Controller) Resume(taskID string) error {
	return c.store.UpdateState(taskID, func(ts *state.TaskState) error {
		if ts.Status != state.TaskCancelled {
			return fmt.Errorf("task %s is %s, not cancelled", taskID, ts.Status)
		}
		ts.Status = state.TaskRunning
		return nil
	})
}

// stageIO assembles the stage's inputs: upstream artifacts, the target
// violation for fix tasks, and the phase-exit policy.
func (c *Controller) stageIO(task *state.Task, ts *state.TaskState, tmpl *Template, stage *Stage) (*executor.StageIO, error) {
	io := &executor.StageIO{
		Policy: phasePolicy(stage),
	}

	if stage.InputContract != "" {
		for _, name := range ts.StageOrder {
			if name == stage.Name {
				break
			}
			upstream, ok := tmpl.Stage(name)
			if !ok || upstream.OutputContract != stage.InputContract {
				continue
			}
			content, _, err := c.store.LatestArtifact(task.ID, name)
			if err == nil {
				if io.Inputs == nil {
					io.Inputs = map[string]string{}
				}
				io.Inputs[name] = string(content)
			}
		}
	}

	if task.GoalType == state.GoalFixViolation {
		var v types.Violation
		if err := c.store.ReadDoc(task.ID, violationDoc, &v); err == nil {
			io.Violation = &v
		}
	}
	return io, nil
}

// nextStage returns the first stage in order that still needs work.
func nextStage(ts *state.TaskState) string {
	for _, name := range ts.StageOrder {
		st, ok := ts.Stages[name]
		if !ok {
			return name
		}
		switch st.Status {
		case state.StageCompleted, state.StageSkipped:
			continue
		case state.StageEscalated:
			// A resolved escalation reopens the stage.
			if ts.PendingEscalation == "" {
				return name
			}
			continue
		default:
			return name
		}
	}
	return ""
}

// previousCompleted finds the nearest completed stage before the given one.
func previousCompleted(ts *state.TaskState, stageName string) string {
	prev := ""
	for _, name := range ts.StageOrder {
		if name == stageName {
			return prev
		}
		if st, ok := ts.Stages[name]; ok && st.Status == state.StageCompleted {
			prev = name
		}
	}
	return ""
}

func phasePolicy(stage *Stage) conformance.PhasePolicy {
	return conformance.PhasePolicy{
		RequiredLayers: stage.RequiredLayers,
		AllowWarnings:  stage.AllowWarnings,
	}
}

// appendEvent writes one lifecycle record into the task's ledger.
func (c *Controller) appendEvent(taskID, stageName, event string, detail map[string]interface{}) error {
	_, err := c.store.AppendStep(taskID, &state.StepRecord{
		Version:   state.SchemaVersion,
		Timestamp: time.Now().UTC(),
		TaskID:    taskID,
		Stage:     stageName,
		Event:     event,
		Detail:    detail,
	})
	return err
}

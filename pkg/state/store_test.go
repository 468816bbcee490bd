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
package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "tasks"))
	require.NoError(t, err)
	return s
}

func newTestTask(t *testing.T, s *Store) *Task {
	t.Helper()
	task := &Task{
		Request:  "add a health endpoint",
		GoalType: GoalImplementFeature,
		Template: "feature",
	}
	require.NoError(t, s.CreateTask(task))
	return task
}

func TestCreateTask(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)

	assert.NotEmpty(t, task.ID)
	assert.False(t, task.CreatedAt.IsZero())
	assert.Equal(t, SchemaVersion, task.Version)

	// Task document and initial state both land on disk.
	loaded, err := s.LoadTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Request, loaded.Request)
	assert.Equal(t, GoalImplementFeature, loaded.GoalType)

	st, err := s.LoadState(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, st.TaskID)
	assert.Equal(t, TaskRunning, st.Status)
	assert.Empty(t, st.Stages)
}

func TestCreateTaskDuplicate(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)

	err := s.CreateTask(&Task{ID: task.ID, Request: "again", GoalType: GoalFixViolation})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTaskExists)
}

func TestCreateTaskInvalidGoal(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateTask(&Task{Request: "x", GoalType: "world_domination"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "goal type")
}

func TestLoadTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadTask("task-missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = s.LoadState("task-missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestUpdateState(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)

	err := s.UpdateState(task.ID, func(st *TaskState) error {
		st.CurrentStage = "planning"
		st.Stage("planning").Status = StageRunning
		st.Stage("planning").Agent = "planner"
		return nil
	})
	require.NoError(t, err)

	st, err := s.LoadState(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "planning", st.CurrentStage)
	require.Contains(t, st.Stages, "planning")
	assert.Equal(t, StageRunning, st.Stages["planning"].Status)
	assert.False(t, st.UpdatedAt.IsZero())
}

func TestUpdateStateMutatorError(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)

	boom := errors.New("boom")
	err := s.UpdateState(task.ID, func(st *TaskState) error {
		st.CurrentStage = "should-not-persist"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	st, err := s.LoadState(task.ID)
	require.NoError(t, err)
	assert.Empty(t, st.CurrentStage)
}

func TestLoadStateCorrupted(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)

	path := filepath.Join(s.TaskDir(task.ID), stateFile)
	require.NoError(t, os.WriteFile(path, []byte("{not: [valid"), 0o640))

	_, err := s.LoadState(task.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStateCorrupted)

	var ce *CorruptionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, task.ID, ce.TaskID)
}

func TestLoadStateWrongOwner(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)
	other := newTestTask(t, s)

	// Copy other's state file over task's to simulate a misplaced document.
	data, err := os.ReadFile(filepath.Join(s.TaskDir(other.ID), stateFile))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.TaskDir(task.ID), stateFile), data, 0o640))

	_, err = s.LoadState(task.ID)
	assert.ErrorIs(t, err, ErrStateCorrupted)
}

func TestCorruptionIsScopedToOneTask(t *testing.T) {
	s := newTestStore(t)
	broken := newTestTask(t, s)
	healthy := newTestTask(t, s)

	path := filepath.Join(s.TaskDir(broken.ID), stateFile)
	require.NoError(t, os.WriteFile(path, []byte(":::"), 0o640))

	_, err := s.LoadState(broken.ID)
	assert.ErrorIs(t, err, ErrStateCorrupted)

	_, err = s.LoadState(healthy.ID)
	assert.NoError(t, err)
}

func TestAppendStepMonotonic(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)

	for want := 1; want <= 3; want++ {
		got, err := s.AppendStep(task.ID, &StepRecord{
			Stage: "planning",
			Agent: "planner",
			Event: EventStep,
		})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	records, err := s.ReadSteps(task.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, i+1, rec.Step)
		assert.Equal(t, task.ID, rec.TaskID)
		assert.False(t, rec.Timestamp.IsZero())
	}
}

func TestAppendStepResumesNumberingAcrossStores(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)

	_, err := s.AppendStep(task.ID, &StepRecord{Event: EventStep})
	require.NoError(t, err)
	_, err = s.AppendStep(task.ID, &StepRecord{Event: EventStep})
	require.NoError(t, err)

	// A fresh Store (new process) must continue the sequence, not restart.
	s2, err := NewStore(s.Root())
	require.NoError(t, err)
	got, err := s2.AppendStep(task.ID, &StepRecord{Event: EventStep})
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestReadStepsToleratesTornTail(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)

	_, err := s.AppendStep(task.ID, &StepRecord{Event: EventStep, Stage: "planning"})
	require.NoError(t, err)
	_, err = s.AppendStep(task.ID, &StepRecord{Event: EventStep, Stage: "planning"})
	require.NoError(t, err)

	// Simulate a crash mid-append: garbage after the last full document.
	path := filepath.Join(s.TaskDir(task.ID), actionsFile)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o640)
	require.NoError(t, err)
	_, err = f.WriteString("---\nstep: 3\n\ttimestamp: broken")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err := s.ReadSteps(task.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	// The next append continues from the last intact record.
	got, err := s.AppendStep(task.ID, &StepRecord{Event: EventStep})
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestAppendStepRoundTripsTabContent(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)

	// Go source is tab-indented, so recorded edit payloads routinely carry
	// tab-led lines. Those must read back exactly as written.
	content := "\treturn n + 55\n}\n"
	_, err := s.AppendStep(task.ID, &StepRecord{
		Event: EventStep,
		Stage: "implement",
		Actions: []ActionRecord{{
			Tool: "edit_file",
			Input: map[string]interface{}{
				"path":    "src/a.go",
				"content": content,
			},
		}},
		Results: []ResultRecord{{Success: true, Summary: "edited\tsrc/a.go"}},
	})
	require.NoError(t, err)
	_, err = s.AppendStep(task.ID, &StepRecord{Event: EventStep, Stage: "implement"})
	require.NoError(t, err)

	records, err := s.ReadSteps(task.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Len(t, records[0].Actions, 1)
	assert.Equal(t, content, records[0].Actions[0].Input["content"])
	assert.Equal(t, "edited\tsrc/a.go", records[0].Results[0].Summary)
}

func TestReadStepsMidLedgerDamageIsCorruption(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)

	_, err := s.AppendStep(task.ID, &StepRecord{Event: EventStep})
	require.NoError(t, err)

	// Unreadable bytes followed by an intact record cannot be a torn tail:
	// the ledger itself is damaged.
	path := filepath.Join(s.TaskDir(task.ID), actionsFile)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o640)
	require.NoError(t, err)
	_, err = f.WriteString("---\nstep: 2\n\ttimestamp: broken\n---\nstep: 3\nevent: step\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = s.ReadSteps(task.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStateCorrupted)

	var ce *CorruptionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, task.ID, ce.TaskID)
}

func TestAppendStepCutsTornTailOnReopen(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)

	_, err := s.AppendStep(task.ID, &StepRecord{Event: EventStep})
	require.NoError(t, err)
	_, err = s.AppendStep(task.ID, &StepRecord{Event: EventStep})
	require.NoError(t, err)

	path := filepath.Join(s.TaskDir(task.ID), actionsFile)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o640)
	require.NoError(t, err)
	_, err = f.WriteString("---\nstep: 3\n\ttimestamp: broken")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// A fresh Store's first append cuts the torn bytes before writing, so
	// the ledger reads back whole afterwards.
	s2, err := NewStore(s.Root())
	require.NoError(t, err)
	got, err := s2.AppendStep(task.ID, &StepRecord{Event: EventStep})
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	records, err := s2.ReadSteps(task.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, i+1, rec.Step)
	}
}

func TestListTasks(t *testing.T) {
	s := newTestStore(t)
	assert.Empty(t, mustListTasks(t, s))

	first := newTestTask(t, s)
	second := &Task{Request: "fix the flaky test", GoalType: GoalFixViolation}
	require.NoError(t, s.CreateTask(second))

	// A stray non-task file in the root is ignored.
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "notes.txt"), []byte("hi"), 0o640))

	tasks := mustListTasks(t, s)
	require.Len(t, tasks, 2)
	ids := []string{tasks[0].ID, tasks[1].ID}
	assert.Contains(t, ids, first.ID)
	assert.Contains(t, ids, second.ID)
}

func TestWriteDocReadDoc(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t, s)

	type note struct {
		Text string `yaml:"text"`
	}
	require.NoError(t, s.WriteDoc(task.ID, "escalations/esc-1.yaml", &note{Text: "stuck"}))

	var got note
	require.NoError(t, s.ReadDoc(task.ID, "escalations/esc-1.yaml", &got))
	assert.Equal(t, "stuck", got.Text)

	names, err := s.ListDocs(task.ID, "escalations")
	require.NoError(t, err)
	assert.Equal(t, []string{"esc-1.yaml"}, names)

	names, err = s.ListDocs(task.ID, "no-such-dir")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func mustListTasks(t *testing.T, s *Store) []*Task {
	t.Helper()
	tasks, err := s.ListTasks()
	require.NoError(t, err)
	return tasks
}

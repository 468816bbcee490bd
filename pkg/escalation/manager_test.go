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
package escalation

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/agentforge/pkg/state"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	store, err := state.NewStore(t.TempDir())
	require.NoError(t, err)
	task := &state.Task{
		ID:       state.NewTaskID(),
		Request:  "fix the parser",
		GoalType: state.GoalFixViolation,
		Template: "fix",
	}
	require.NoError(t, store.CreateTask(task))
	m := NewManager(store)
	m.PollInterval = 20 * time.Millisecond
	return m, task.ID
}

func TestManager_CreateAndResolve(t *testing.T) {
	m, taskID := newTestManager(t)

	esc, err := m.Create(taskID, "implement", "generated file cannot be edited", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(esc.ID, "esc-"))
	assert.Equal(t, StatusPending, esc.Status)

	ts, err := m.store.LoadState(taskID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskEscalated, ts.Status)
	assert.Equal(t, esc.ID, ts.PendingEscalation)

	pending, err := m.Pending(taskID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, esc.ID, pending[0].ID)

	resolved, err := m.Resolve(taskID, esc.ID, "edit the template instead")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)

	ts, err = m.store.LoadState(taskID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskRunning, ts.Status)
	assert.Empty(t, ts.PendingEscalation)
	assert.Equal(t, "edit the template instead", ts.Resolution)

	pending, err = m.Pending(taskID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Resolving twice is refused.
	_, err = m.Resolve(taskID, esc.ID, "again")
	assert.Error(t, err)
}

func TestManager_AbortFailsTask(t *testing.T) {
	m, taskID := newTestManager(t)
	esc, err := m.Create(taskID, "design", "requirements contradictory", nil)
	require.NoError(t, err)

	aborted, err := m.Abort(taskID, esc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, aborted.Status)

	ts, err := m.store.LoadState(taskID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskFailed, ts.Status)
}

func TestManager_SnapshotCompression(t *testing.T) {
	m, taskID := newTestManager(t)

	small := []byte("small snapshot")
	esc, err := m.Create(taskID, "implement", "r", small)
	require.NoError(t, err)
	assert.False(t, strings.HasSuffix(esc.ContextSnapshotRef, ".zst"))
	got, err := m.Snapshot(taskID, esc)
	require.NoError(t, err)
	assert.Equal(t, small, got)

	large := bytes.Repeat([]byte("context line\n"), 200)
	esc2, err := m.Create(taskID, "implement", "r2", large)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(esc2.ContextSnapshotRef, ".zst"))
	got2, err := m.Snapshot(taskID, esc2)
	require.NoError(t, err)
	assert.Equal(t, large, got2)
}

func TestManager_GetUnknown(t *testing.T) {
	m, taskID := newTestManager(t)
	_, err := m.Get(taskID, "esc-missing")
	assert.ErrorIs(t, err, ErrEscalationNotFound)
}

func TestManager_AwaitSeesResolution(t *testing.T) {
	m, taskID := newTestManager(t)
	esc, err := m.Create(taskID, "implement", "stuck", nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = m.Resolve(taskID, esc.ID, "carry on")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resolved, err := m.Await(ctx, taskID, esc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	assert.Equal(t, "carry on", resolved.Resolution)
}

func TestManager_AwaitHonorsContext(t *testing.T) {
	m, taskID := newTestManager(t)
	esc, err := m.Create(taskID, "implement", "stuck", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = m.Await(ctx, taskID, esc.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

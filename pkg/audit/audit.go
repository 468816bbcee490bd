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

// Package audit reads the per-task action ledger back: contiguity
// verification, deterministic action replay, forking a new task from a
// reconstructed step, and comparing two runs' action sequences.
package audit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"github.com/teradata-labs/agentforge/internal/log"
	"github.com/teradata-labs/agentforge/pkg/state"
)

// ErrLedgerGap reports a non-contiguous or non-monotonic step sequence.
var ErrLedgerGap = errors.New("audit ledger has non-contiguous steps")

// Reader loads and checks a task's ledger.
type Reader struct {
	store  *state.Store
	logger *zap.Logger
}

// NewReader creates a reader over the store.
func NewReader(store *state.Store) *Reader {
	return &Reader{store: store, logger: log.Logger()}
}

// Read returns the full ledger after verifying step contiguity: indices
// must be 1-based, strictly increasing by one.
func (r *Reader) Read(taskID string) ([]state.StepRecord, error) {
	steps, err := r.store.ReadSteps(taskID)
	if err != nil {
		return nil, err
	}
	for i, s := range steps {
		if s.Step != i+1 {
			return nil, fmt.Errorf("step %d holds index %d: %w", i+1, s.Step, ErrLedgerGap)
		}
	}
	return steps, nil
}

// Replayer re-executes recorded file operations without any LLM calls.
type Replayer struct {
	store  *state.Store
	logger *zap.Logger
}

// NewReplayer creates a replayer over the store.
func NewReplayer(store *state.Store) *Replayer {
	return &Replayer{store: store, logger: log.Logger()}
}

// writeBearing reports whether a recorded action mutates the filesystem.
func writeBearing(tool string) bool {
	return tool == "write_file" || tool == "edit_file"
}

// dispatched reports whether a record's actions reached the workspace. A
// step cancelled after dispatch still carries applied mutations.
func dispatched(step state.StepRecord) bool {
	return step.Event == state.EventStep || step.Event == state.EventCancelled
}

// ReplayActions re-applies every successful recorded file mutation into
// dir, in ledger order. The result is bit-for-bit the file state the
// original run produced, with no LLM involvement.
func (r *Replayer) ReplayActions(taskID, dir string) (int, error) {
	steps, err := NewReader(r.store).Read(taskID)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, step := range steps {
		if !dispatched(step) {
			continue
		}
		for i, action := range step.Actions {
			if !writeBearing(action.Tool) {
				continue
			}
			if i < len(step.Results) && !step.Results[i].Success {
				continue
			}
			if err := r.applyAction(dir, step.Step, action); err != nil {
				return applied, fmt.Errorf("step %d %s: %w", step.Step, action.Tool, err)
			}
			applied++
		}
	}
	r.logger.Info("actions replayed",
		zap.String("task_id", taskID),
		zap.Int("applied", applied))
	return applied, nil
}

func (r *Replayer) applyAction(dir string, stepNo int, action state.ActionRecord) error {
	path, _ := action.Input["path"].(string)
	if path == "" {
		return fmt.Errorf("recorded action has no path")
	}
	target := filepath.Join(dir, filepath.Clean(path))
	if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
		return fmt.Errorf("recorded path %q escapes replay dir", path)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}

	switch action.Tool {
	case "write_file":
		content, _ := action.Input["content"].(string)
		return os.WriteFile(target, []byte(content), 0o640)

	case "edit_file":
		content, _ := action.Input["content"].(string)
		start := intParam(action.Input, "start_line")
		end := intParam(action.Input, "end_line")
		data, err := os.ReadFile(target) // #nosec G304 -- inside replay dir by construction
		if err != nil {
			return err
		}
		lines := strings.Split(string(data), "\n")
		if start < 1 || end < start || end > len(lines) {
			return fmt.Errorf("recorded range %d..%d does not fit %d lines (step %d)",
				start, end, len(lines), stepNo)
		}
		merged := append(append(append([]string{}, lines[:start-1]...),
			strings.Split(content, "\n")...), lines[end:]...)
		return os.WriteFile(target, []byte(strings.Join(merged, "\n")), 0o640)
	}
	return fmt.Errorf("unsupported replay tool %q", action.Tool)
}

func intParam(input map[string]interface{}, key string) int {
	switch v := input[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Fork creates a new task seeded from the source task's state as of step n:
// same request, goal and template, with the replayed file state applied to
// a fresh workspace directory supplied by the caller.
func (r *Replayer) Fork(taskID string, n int, dir string) (*state.Task, error) {
	src, err := r.store.LoadTask(taskID)
	if err != nil {
		return nil, err
	}
	steps, err := NewReader(r.store).Read(taskID)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > len(steps) {
		return nil, fmt.Errorf("fork step %d out of range (ledger has %d)", n, len(steps))
	}

	applied := 0
	for _, step := range steps {
		if step.Step > n || !dispatched(step) {
			continue
		}
		for i, action := range step.Actions {
			if !writeBearing(action.Tool) {
				continue
			}
			if i < len(step.Results) && !step.Results[i].Success {
				continue
			}
			if err := r.applyAction(dir, step.Step, action); err != nil {
				return nil, fmt.Errorf("step %d %s: %w", step.Step, action.Tool, err)
			}
			applied++
		}
	}

	forked := &state.Task{
		ID:        state.NewTaskID(),
		Request:   src.Request,
		GoalType:  src.GoalType,
		Template:  src.Template,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.CreateTask(forked); err != nil {
		return nil, err
	}
	r.logger.Info("task forked",
		zap.String("source", taskID),
		zap.String("fork", forked.ID),
		zap.Int("from_step", n),
		zap.Int("actions_applied", applied))
	return forked, nil
}

// Divergence is one point where two action sequences differ.
type Divergence struct {
	// Index is the position in the aligned sequence
	Index int

	// Kind is insert, delete or equal-break context
	Kind string

	// Text is the differing action line
	Text string
}

// actionLines renders a ledger as one action per line for alignment.
func actionLines(steps []state.StepRecord) string {
	var b strings.Builder
	for _, step := range steps {
		if !dispatched(step) {
			continue
		}
		for _, a := range step.Actions {
			path, _ := a.Input["path"].(string)
			fmt.Fprintf(&b, "%s %s\n", a.Tool, path)
		}
	}
	return b.String()
}

// Compare aligns two tasks' action sequences and reports divergences.
// Equal runs produce an empty slice.
func (r *Reader) Compare(oldTaskID, newTaskID string) ([]Divergence, error) {
	oldSteps, err := r.Read(oldTaskID)
	if err != nil {
		return nil, err
	}
	newSteps, err := r.Read(newTaskID)
	if err != nil {
		return nil, err
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(actionLines(oldSteps), actionLines(newSteps))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out []Divergence
	idx := 0
	for _, d := range diffs {
		count := strings.Count(d.Text, "\n")
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			idx += count
		case diffmatchpatch.DiffDelete:
			for _, line := range splitLines(d.Text) {
				out = append(out, Divergence{Index: idx, Kind: "removed", Text: line})
			}
			idx += count
		case diffmatchpatch.DiffInsert:
			for _, line := range splitLines(d.Text) {
				out = append(out, Divergence{Index: idx, Kind: "added", Text: line})
			}
		}
	}
	return out, nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

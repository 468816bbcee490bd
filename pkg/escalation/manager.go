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

// Package escalation manages the human loop: an agent that cannot proceed
// writes an escalation into the task's store and the pipeline suspends.
// Humans resolve through any channel that writes the store; the controller
// awaits resolution via fsnotify with a polling fallback.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/teradata-labs/agentforge/internal/log"
	"github.com/teradata-labs/agentforge/pkg/state"
)

// Status values for an escalation.
const (
	StatusPending  = "pending"
	StatusResolved = "resolved"
	StatusAborted  = "aborted"
)

// ErrEscalationNotFound is returned when no escalation has the given id.
var ErrEscalationNotFound = errors.New("escalation not found")

// compressThreshold is the snapshot size above which zstd kicks in.
const compressThreshold = 1024

// Escalation is one suspended question to a human.
type Escalation struct {
	Version   int       `yaml:"version"`
	ID        string    `yaml:"id"`
	TaskID    string    `yaml:"task_id"`
	Stage     string    `yaml:"stage"`
	Reason    string    `yaml:"reason"`
	Status    string    `yaml:"status"`
	CreatedAt time.Time `yaml:"created_at"`

	// ContextSnapshotRef points at the stored snapshot file, relative to
	// the task dir. A .zst suffix marks a compressed snapshot.
	ContextSnapshotRef string `yaml:"context_snapshot_ref,omitempty"`

	Resolution string     `yaml:"resolution,omitempty"`
	ResolvedAt *time.Time `yaml:"resolved_at,omitempty"`
}

// Manager persists escalations under each task's escalations/ directory.
type Manager struct {
	store  *state.Store
	logger *zap.Logger

	// PollInterval is the fallback cadence when fsnotify is unavailable.
	PollInterval time.Duration
}

// NewManager creates a manager over the store.
func NewManager(store *state.Store) *Manager {
	return &Manager{
		store:        store,
		logger:       log.Logger(),
		PollInterval: 2 * time.Second,
	}
}

// NewID mints an escalation identifier.
func NewID() string {
	return "esc-" + uuid.NewString()[:8]
}

func escalationRel(id string) string {
	return filepath.Join("escalations", id+".yaml")
}

// Create persists a new pending escalation, optionally with a context
// snapshot. The task's pending-escalation pointer is set in the same call.
func (m *Manager) Create(taskID, stage, reason string, snapshot []byte) (*Escalation, error) {
	esc := &Escalation{
		Version:   state.SchemaVersion,
		ID:        NewID(),
		TaskID:    taskID,
		Stage:     stage,
		Reason:    reason,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if len(snapshot) > 0 {
		ref, err := m.writeSnapshot(taskID, esc.ID, snapshot)
		if err != nil {
			return nil, err
		}
		esc.ContextSnapshotRef = ref
	}

	if err := m.store.WriteDoc(taskID, escalationRel(esc.ID), esc); err != nil {
		return nil, fmt.Errorf("write escalation: %w", err)
	}
	if err := m.store.UpdateState(taskID, func(ts *state.TaskState) error {
		ts.Status = state.TaskEscalated
		ts.PendingEscalation = esc.ID
		return nil
	}); err != nil {
		return nil, err
	}

	m.logger.Info("escalation created",
		zap.String("task_id", taskID),
		zap.String("escalation_id", esc.ID),
		zap.String("stage", stage))
	return esc, nil
}

// writeSnapshot stores the context snapshot, zstd-compressed above 1 KiB.
func (m *Manager) writeSnapshot(taskID, escID string, snapshot []byte) (string, error) {
	rel := filepath.Join("escalations", escID+"_context.yaml")
	data := snapshot
	if len(snapshot) > compressThreshold {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return "", fmt.Errorf("init zstd: %w", err)
		}
		data = enc.EncodeAll(snapshot, nil)
		if err := enc.Close(); err != nil {
			return "", fmt.Errorf("close zstd: %w", err)
		}
		rel += ".zst"
	}
	path := filepath.Join(m.store.TaskDir(taskID), rel)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return rel, nil
}

// Snapshot reads an escalation's context snapshot, transparently
// decompressing .zst files.
func (m *Manager) Snapshot(taskID string, esc *Escalation) ([]byte, error) {
	if esc.ContextSnapshotRef == "" {
		return nil, nil
	}
	path := filepath.Join(m.store.TaskDir(taskID), esc.ContextSnapshotRef)
	data, err := os.ReadFile(path) // #nosec G304 -- ref written by this manager
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if !strings.HasSuffix(esc.ContextSnapshotRef, ".zst") {
		return data, nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	return out, nil
}

// Get loads one escalation by id.
func (m *Manager) Get(taskID, escID string) (*Escalation, error) {
	var esc Escalation
	if err := m.store.ReadDoc(taskID, escalationRel(escID), &esc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("escalation %s: %w", escID, ErrEscalationNotFound)
		}
		return nil, err
	}
	return &esc, nil
}

// Pending lists a task's pending escalations, oldest first.
func (m *Manager) Pending(taskID string) ([]*Escalation, error) {
	names, err := m.store.ListDocs(taskID, "escalations")
	if err != nil {
		return nil, err
	}
	var pending []*Escalation
	for _, name := range names {
		if !strings.HasSuffix(name, ".yaml") || strings.Contains(name, "_context") {
			continue
		}
		var esc Escalation
		if err := m.store.ReadDoc(taskID, filepath.Join("escalations", name), &esc); err != nil {
			continue
		}
		if esc.Status == StatusPending {
			pending = append(pending, &esc)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// Resolve marks a pending escalation resolved and stages the resolution
// text for the next step's context.
func (m *Manager) Resolve(taskID, escID, resolution string) (*Escalation, error) {
	return m.finish(taskID, escID, StatusResolved, resolution)
}

// Abort marks a pending escalation aborted; the stage fails.
func (m *Manager) Abort(taskID, escID string) (*Escalation, error) {
	return m.finish(taskID, escID, StatusAborted, "")
}

func (m *Manager) finish(taskID, escID, status, resolution string) (*Escalation, error) {
	esc, err := m.Get(taskID, escID)
	if err != nil {
		return nil, err
	}
	if esc.Status != StatusPending {
		return nil, fmt.Errorf("escalation %s is %s, not pending", escID, esc.Status)
	}

	now := time.Now().UTC()
	esc.Status = status
	esc.Resolution = resolution
	esc.ResolvedAt = &now
	if err := m.store.WriteDoc(taskID, escalationRel(escID), esc); err != nil {
		return nil, fmt.Errorf("write escalation: %w", err)
	}

	if err := m.store.UpdateState(taskID, func(ts *state.TaskState) error {
		if ts.PendingEscalation == escID {
			ts.PendingEscalation = ""
		}
		if status == StatusResolved {
			ts.Status = state.TaskRunning
			ts.Resolution = resolution
		} else {
			ts.Status = state.TaskFailed
		}
		return nil
	}); err != nil {
		return nil, err
	}

	m.logger.Info("escalation finished",
		zap.String("task_id", taskID),
		zap.String("escalation_id", escID),
		zap.String("status", status))
	return esc, nil
}

// Await blocks until the escalation leaves pending or the context ends.
// It watches the escalations directory with fsnotify and polls as a
// fallback, so resolutions written by any process are seen.
func (m *Manager) Await(ctx context.Context, taskID, escID string) (*Escalation, error) {
	dir := filepath.Join(m.store.TaskDir(taskID), "escalations")

	var events chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer func() { _ = watcher.Close() }()
		if err := watcher.Add(dir); err == nil {
			events = make(chan fsnotify.Event, 1)
			go func() {
				for ev := range watcher.Events {
					select {
					case events <- ev:
					default:
					}
				}
			}()
		}
	}

	ticker := time.NewTicker(m.PollInterval)
	defer ticker.Stop()

	for {
		esc, err := m.Get(taskID, escID)
		if err != nil {
			return nil, err
		}
		if esc.Status != StatusPending {
			return esc, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		case <-events:
		}
	}
}

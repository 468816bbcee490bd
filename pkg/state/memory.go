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
	"time"
)

// DefaultMemoryItems caps working memory so carried context stays small.
const DefaultMemoryItems = 5

// MemoryItem is one fact an agent chose to carry between steps.
type MemoryItem struct {
	Key               string    `yaml:"key" json:"key"`
	Content           string    `yaml:"content" json:"content"`
	Pinned            bool      `yaml:"pinned,omitempty" json:"pinned,omitempty"`
	AddedStep         int       `yaml:"added_step" json:"added_step"`
	ExpiresAfterSteps int       `yaml:"expires_after_steps,omitempty" json:"expires_after_steps,omitempty"`
	AddedAt           time.Time `yaml:"added_at" json:"added_at"`
}

// Expired reports whether the item has outlived its step budget.
func (m *MemoryItem) Expired(currentStep int) bool {
	if m.ExpiresAfterSteps <= 0 {
		return false
	}
	return currentStep-m.AddedStep > m.ExpiresAfterSteps
}

// WorkingMemory is the bounded FIFO of carried facts, persisted per task.
type WorkingMemory struct {
	Version  int          `yaml:"version"`
	MaxItems int          `yaml:"max_items"`
	Items    []MemoryItem `yaml:"items"`
}

// NewWorkingMemory returns an empty memory with the given capacity.
// maxItems <= 0 selects the default.
func NewWorkingMemory(maxItems int) *WorkingMemory {
	if maxItems <= 0 {
		maxItems = DefaultMemoryItems
	}
	return &WorkingMemory{Version: SchemaVersion, MaxItems: maxItems}
}

// Add inserts or replaces an item. A duplicate key overwrites in place and
// keeps its position. When full, the oldest unpinned item is evicted first;
// if every item is pinned, the oldest pinned one goes.
func (w *WorkingMemory) Add(item MemoryItem) {
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now().UTC()
	}
	for i := range w.Items {
		if w.Items[i].Key == item.Key {
			w.Items[i] = item
			return
		}
	}
	max := w.MaxItems
	if max <= 0 {
		max = DefaultMemoryItems
	}
	for len(w.Items) >= max {
		w.evictOldest()
	}
	w.Items = append(w.Items, item)
}

// Remove drops the item with the given key. Returns whether it existed.
func (w *WorkingMemory) Remove(key string) bool {
	for i := range w.Items {
		if w.Items[i].Key == key {
			w.Items = append(w.Items[:i], w.Items[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the item with the given key, if present.
func (w *WorkingMemory) Get(key string) (MemoryItem, bool) {
	for i := range w.Items {
		if w.Items[i].Key == key {
			return w.Items[i], true
		}
	}
	return MemoryItem{}, false
}

// Prune drops expired items. Pinned items never expire.
func (w *WorkingMemory) Prune(currentStep int) int {
	kept := w.Items[:0]
	dropped := 0
	for _, item := range w.Items {
		if !item.Pinned && item.Expired(currentStep) {
			dropped++
			continue
		}
		kept = append(kept, item)
	}
	w.Items = kept
	return dropped
}

func (w *WorkingMemory) evictOldest() {
	if len(w.Items) == 0 {
		return
	}
	victim := -1
	for i := range w.Items {
		if !w.Items[i].Pinned {
			victim = i
			break
		}
	}
	if victim == -1 {
		victim = 0
	}
	w.Items = append(w.Items[:victim], w.Items[victim+1:]...)
}

// LoadWorkingMemory reads a task's working memory. A missing file yields an
// empty memory at default capacity so brand new tasks need no setup step.
func (s *Store) LoadWorkingMemory(id string) (*WorkingMemory, error) {
	path := filepath.Join(s.TaskDir(id), workingMemoryFile)
	var mem WorkingMemory
	if err := readYAML(path, &mem); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewWorkingMemory(0), nil
		}
		return nil, &CorruptionError{TaskID: id, Path: path, Err: err}
	}
	if mem.MaxItems <= 0 {
		mem.MaxItems = DefaultMemoryItems
	}
	return &mem, nil
}

// SaveWorkingMemory persists a task's working memory atomically.
func (s *Store) SaveWorkingMemory(id string, mem *WorkingMemory) error {
	mem.Version = SchemaVersion
	return s.withTaskLock(id, func() error {
		return writeYAMLAtomic(filepath.Join(s.TaskDir(id), workingMemoryFile), mem)
	})
}

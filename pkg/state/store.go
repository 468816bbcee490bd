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
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/agentforge/internal/log"
)

// Sentinel errors. Callers match with errors.Is.
var (
	ErrTaskExists     = errors.New("task already exists")
	ErrTaskNotFound   = errors.New("task not found")
	ErrStateCorrupted = errors.New("state corrupted")
)

// CorruptionError wraps an unreadable or inconsistent state document. It is
// fatal for the owning task and matches ErrStateCorrupted under errors.Is;
// other tasks are unaffected.
type CorruptionError struct {
	TaskID string
	Path   string
	Err    error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("state corrupted for task %s (%s): %v", e.TaskID, e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

func (e *CorruptionError) Is(target error) bool { return target == ErrStateCorrupted }

// Well-known file names inside a task directory.
const (
	taskFile          = "task.yaml"
	stateFile         = "state.yaml"
	actionsFile       = "actions.log"
	workingMemoryFile = "working_memory.yaml"
	lockFile          = ".lock"

	artifactsDir   = "artifacts"
	snapshotsDir   = "snapshots"
	escalationsDir = "escalations"
)

// Store is the on-disk task state store. One writer per task is enforced
// with a per-task file lock plus an in-process mutex; readers need neither.
type Store struct {
	root string

	mu       sync.Mutex
	taskMu   map[string]*sync.Mutex
	nextStep map[string]int
	logger   *zap.Logger
}

// NewStore opens (creating if needed) a store rooted at dir.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("state store root must not be empty")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create state root: %w", err)
	}
	return &Store{
		root:     root,
		taskMu:   make(map[string]*sync.Mutex),
		nextStep: make(map[string]int),
		logger:   log.Logger(),
	}, nil
}

// Root returns the store root directory.
func (s *Store) Root() string { return s.root }

// TaskDir returns the directory holding all state for one task.
func (s *Store) TaskDir(id string) string {
	return filepath.Join(s.root, id)
}

// NewTaskID mints a fresh task identifier.
func NewTaskID() string {
	return "task-" + uuid.NewString()
}

// CreateTask persists a new task directory with its immutable task document
// and initial pipeline state. Fails with ErrTaskExists on id collision.
func (s *Store) CreateTask(task *Task) error {
	if task.ID == "" {
		task.ID = NewTaskID()
	}
	if !task.GoalType.Valid() {
		return fmt.Errorf("invalid goal type %q", task.GoalType)
	}
	task.Version = SchemaVersion
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	dir := s.TaskDir(task.ID)
	if err := os.Mkdir(dir, 0o750); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("task %s: %w", task.ID, ErrTaskExists)
		}
		return fmt.Errorf("create task dir: %w", err)
	}
	for _, sub := range []string{artifactsDir, snapshotsDir, escalationsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return fmt.Errorf("create task subdir %s: %w", sub, err)
		}
	}

	if err := writeYAMLAtomic(filepath.Join(dir, taskFile), task); err != nil {
		return err
	}

	initial := &TaskState{
		Version:   SchemaVersion,
		TaskID:    task.ID,
		Status:    TaskRunning,
		Stages:    make(map[string]*StageState),
		UpdatedAt: time.Now().UTC(),
	}
	if err := writeYAMLAtomic(filepath.Join(dir, stateFile), initial); err != nil {
		return err
	}

	// Touch the ledger so readers never race directory creation.
	f, err := os.OpenFile(filepath.Join(dir, actionsFile), os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("create actions log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("create actions log: %w", err)
	}

	s.logger.Info("task created",
		zap.String("task_id", task.ID),
		zap.String("goal_type", string(task.GoalType)),
		zap.String("template", task.Template))
	return nil
}

// LoadTask reads the immutable task document.
func (s *Store) LoadTask(id string) (*Task, error) {
	path := filepath.Join(s.TaskDir(id), taskFile)
	var task Task
	if err := readYAML(path, &task); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
		}
		return nil, &CorruptionError{TaskID: id, Path: path, Err: err}
	}
	return &task, nil
}

// LoadState reads the mutable pipeline state.
func (s *Store) LoadState(id string) (*TaskState, error) {
	path := filepath.Join(s.TaskDir(id), stateFile)
	var st TaskState
	if err := readYAML(path, &st); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
		}
		return nil, &CorruptionError{TaskID: id, Path: path, Err: err}
	}
	if st.TaskID != id {
		return nil, &CorruptionError{
			TaskID: id,
			Path:   path,
			Err:    fmt.Errorf("state belongs to %q", st.TaskID),
		}
	}
	return &st, nil
}

// ListTasks returns every readable task in the store, newest first.
// Unreadable task directories are skipped with a warning.
func (s *Store) ListTasks() ([]*Task, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	var tasks []*Task
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		task, err := s.LoadTask(entry.Name())
		if err != nil {
			s.logger.Warn("skipping unreadable task dir",
				zap.String("dir", entry.Name()),
				zap.Error(err))
			continue
		}
		tasks = append(tasks, task)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// UpdateState applies mutator to the task's state under the single-writer
// lock and persists the result via temp file + rename. The mutator sees the
// freshly loaded state; returning an error aborts without writing.
func (s *Store) UpdateState(id string, mutator func(*TaskState) error) error {
	return s.withTaskLock(id, func() error {
		st, err := s.LoadState(id)
		if err != nil {
			return err
		}
		if err := mutator(st); err != nil {
			return err
		}
		st.Version = SchemaVersion
		st.UpdatedAt = time.Now().UTC()
		return writeYAMLAtomic(filepath.Join(s.TaskDir(id), stateFile), st)
	})
}

// AppendStep appends a record to the task's action ledger and assigns it
// the next monotonic step index. Returns the assigned index.
func (s *Store) AppendStep(id string, record *StepRecord) (int, error) {
	var assigned int
	err := s.withTaskLock(id, func() error {
		next, err := s.nextStepLocked(id)
		if err != nil {
			return err
		}
		record.Version = SchemaVersion
		record.Step = next
		record.TaskID = id
		if record.Timestamp.IsZero() {
			record.Timestamp = time.Now().UTC()
		}

		data, err := marshalStepRecord(record)
		if err != nil {
			return fmt.Errorf("marshal step record: %w", err)
		}

		path := filepath.Join(s.TaskDir(id), actionsFile)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return fmt.Errorf("open actions log: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.Write(append([]byte("---\n"), data...)); err != nil {
			return fmt.Errorf("append step record: %w", err)
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("sync actions log: %w", err)
		}

		s.mu.Lock()
		s.nextStep[id] = next + 1
		s.mu.Unlock()
		assigned = next
		return nil
	})
	return assigned, err
}

// ReadSteps returns every record in the task's action ledger in append
// order. A torn trailing record (crash mid-append) is ignored; everything
// before it is authoritative. An undecodable record anywhere before the
// tail means the ledger itself is damaged and fails with ErrStateCorrupted.
func (s *Store) ReadSteps(id string) ([]StepRecord, error) {
	path := filepath.Join(s.TaskDir(id), actionsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
		}
		return nil, fmt.Errorf("open actions log: %w", err)
	}

	records, validLen, perr := parseLedger(data)
	if perr != nil {
		return nil, &CorruptionError{TaskID: id, Path: path, Err: perr}
	}
	if validLen < len(data) {
		s.logger.Warn("ignoring torn trailing ledger record",
			zap.String("task_id", id),
			zap.Int("records_read", len(records)))
	}
	return records, nil
}

// marshalStepRecord renders a record so it survives the round trip back
// through the decoder. Strings carrying tabs cannot live in block scalars,
// so they are forced to double-quoted style; everything else keeps the
// default rendering.
func marshalStepRecord(record *StepRecord) ([]byte, error) {
	var node yaml.Node
	if err := node.Encode(record); err != nil {
		return nil, err
	}
	quoteTabScalars(&node)
	return yaml.Marshal(&node)
}

func quoteTabScalars(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!str" && strings.ContainsRune(n.Value, '\t') {
		n.Style = yaml.DoubleQuotedStyle
	}
	for _, child := range n.Content {
		quoteTabScalars(child)
	}
}

// parseLedger decodes the actions log. A trailing document that does not
// decode is a crash mid-append: the intact records are returned and
// validLen marks where the torn bytes begin. An undecodable document
// before the tail is ledger damage and returns an error.
func parseLedger(data []byte) (records []StepRecord, validLen int, err error) {
	docs, offsets := splitLedgerDocs(data)
	for i, doc := range docs {
		var rec StepRecord
		if err := yaml.Unmarshal(doc, &rec); err != nil {
			if i == len(docs)-1 {
				return records, offsets[i], nil
			}
			return nil, 0, fmt.Errorf("ledger record %d: %w", i+1, err)
		}
		records = append(records, rec)
	}
	return records, len(data), nil
}

// splitLedgerDocs splits the log into documents at column-zero separator
// lines. Record content is always quoted or indented, so a bare separator
// can only start a document. offsets[i] is where document i's separator
// begins.
func splitLedgerDocs(data []byte) (docs [][]byte, offsets []int) {
	pos := 0
	var cur []byte
	curStart := -1
	for pos < len(data) {
		next := len(data)
		lineEnd := next
		if i := bytes.IndexByte(data[pos:], '\n'); i >= 0 {
			lineEnd = pos + i
			next = lineEnd + 1
		}
		if string(data[pos:lineEnd]) == "---" {
			if curStart >= 0 && len(bytes.TrimSpace(cur)) > 0 {
				docs = append(docs, cur)
				offsets = append(offsets, curStart)
			}
			cur = nil
			curStart = pos
		} else if curStart >= 0 {
			cur = append(cur, data[pos:next]...)
		}
		pos = next
	}
	if curStart >= 0 && len(bytes.TrimSpace(cur)) > 0 {
		docs = append(docs, cur)
		offsets = append(offsets, curStart)
	}
	return docs, offsets
}

// WriteDoc atomically writes a YAML document at a path relative to the task
// directory, creating parent directories as needed.
func (s *Store) WriteDoc(id, rel string, v interface{}) error {
	path := filepath.Join(s.TaskDir(id), rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create doc dir: %w", err)
	}
	return writeYAMLAtomic(path, v)
}

// ReadDoc reads a YAML document at a path relative to the task directory.
func (s *Store) ReadDoc(id, rel string, out interface{}) error {
	return readYAML(filepath.Join(s.TaskDir(id), rel), out)
}

// ListDocs returns the file names (not paths) under a task-relative
// directory, sorted.
func (s *Store) ListDocs(id, rel string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.TaskDir(id), rel))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list docs: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// withTaskLock serializes writers for one task: an in-process mutex for
// goroutines plus a file lock for other processes.
func (s *Store) withTaskLock(id string, fn func() error) error {
	s.mu.Lock()
	m, ok := s.taskMu[id]
	if !ok {
		m = &sync.Mutex{}
		s.taskMu[id] = m
	}
	s.mu.Unlock()

	m.Lock()
	defer m.Unlock()

	dir := s.TaskDir(id)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
		}
		return fmt.Errorf("stat task dir: %w", err)
	}

	fl := flock.New(filepath.Join(dir, lockFile))
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquire task lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	return fn()
}

// nextStepLocked returns the next step index, scanning the ledger once per
// process lifetime and caching afterwards. The cold scan also cuts any torn
// tail left by a crashed append, so a resumed task never buries unreadable
// bytes in the middle of its ledger. Must run under the task lock.
func (s *Store) nextStepLocked(id string) (int, error) {
	s.mu.Lock()
	next, ok := s.nextStep[id]
	s.mu.Unlock()
	if ok {
		return next, nil
	}

	path := filepath.Join(s.TaskDir(id), actionsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
		}
		return 0, fmt.Errorf("open actions log: %w", err)
	}
	records, validLen, perr := parseLedger(data)
	if perr != nil {
		return 0, &CorruptionError{TaskID: id, Path: path, Err: perr}
	}
	if validLen < len(data) {
		s.logger.Warn("truncating torn ledger tail",
			zap.String("task_id", id),
			zap.Int("bytes_dropped", len(data)-validLen))
		if err := os.Truncate(path, int64(validLen)); err != nil {
			return 0, fmt.Errorf("truncate torn ledger tail: %w", err)
		}
	}

	next = 1
	if len(records) > 0 {
		next = records[len(records)-1].Step + 1
	}
	s.mu.Lock()
	s.nextStep[id] = next
	s.mu.Unlock()
	return next, nil
}

// writeYAMLAtomic writes v as YAML via a temp file and rename so readers
// never observe a partial document.
func writeYAMLAtomic(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// IsTaskID reports whether a directory name looks like a task id. Used to
// skip stray files when scanning the root.
func IsTaskID(name string) bool {
	return strings.HasPrefix(name, "task-")
}

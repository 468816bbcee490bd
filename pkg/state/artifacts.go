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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// ErrArtifactNotFound is returned when a stage has no stored artifact at the
// requested version.
var ErrArtifactNotFound = errors.New("artifact not found")

// Artifact statuses.
const (
	ArtifactActive     = "active"
	ArtifactSuperseded = "superseded"
	ArtifactRejected   = "rejected"
)

// ArtifactRef identifies one stored artifact version.
type ArtifactRef struct {
	Stage     string    `yaml:"stage" json:"stage"`
	Version   int       `yaml:"version" json:"version"`
	Hash      string    `yaml:"hash" json:"hash"`
	Status    string    `yaml:"status" json:"status"`
	SizeBytes int       `yaml:"size_bytes" json:"size_bytes"`
	Step      int       `yaml:"step,omitempty" json:"step,omitempty"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

// artifactIndex orders the versions of one stage's artifact, oldest first.
type artifactIndex struct {
	Version  int           `yaml:"version"`
	Stage    string        `yaml:"stage"`
	Versions []ArtifactRef `yaml:"versions"`
}

const artifactIndexFile = "index.yaml"

func (s *Store) stageArtifactDir(id, stage string) string {
	return filepath.Join(s.TaskDir(id), artifactsDir, stage)
}

// SaveArtifact stores content as the next artifact version for a stage.
// Content is canonicalized before hashing, and saving the bytes already at
// the head is a no-op that returns the existing reference, so retried steps
// never fork new versions.
func (s *Store) SaveArtifact(id, stage string, content []byte, step int) (*ArtifactRef, error) {
	canonical := Canonicalize(content)
	hash := HashBytes(canonical)

	var ref *ArtifactRef
	err := s.withTaskLock(id, func() error {
		dir := s.stageArtifactDir(id, stage)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create artifact dir: %w", err)
		}

		idx, err := s.loadArtifactIndex(id, stage)
		if err != nil {
			return err
		}
		if n := len(idx.Versions); n > 0 && idx.Versions[n-1].Hash == hash {
			ref = &idx.Versions[n-1]
			return nil
		}

		contentPath := filepath.Join(dir, hash+".yaml")
		if _, err := os.Stat(contentPath); errors.Is(err, os.ErrNotExist) {
			if err := writeBytesAtomic(contentPath, canonical); err != nil {
				return err
			}
		}

		for i := range idx.Versions {
			if idx.Versions[i].Status == ArtifactActive {
				idx.Versions[i].Status = ArtifactSuperseded
			}
		}
		next := ArtifactRef{
			Stage:     stage,
			Version:   len(idx.Versions) + 1,
			Hash:      hash,
			Status:    ArtifactActive,
			SizeBytes: len(canonical),
			Step:      step,
			CreatedAt: time.Now().UTC(),
		}
		idx.Versions = append(idx.Versions, next)
		idx.Version = SchemaVersion
		idx.Stage = stage
		if err := writeYAMLAtomic(filepath.Join(dir, artifactIndexFile), idx); err != nil {
			return err
		}
		ref = &next

		s.logger.Debug("artifact saved",
			zap.String("task_id", id),
			zap.String("stage", stage),
			zap.Int("artifact_version", next.Version),
			zap.String("hash", hash[:12]))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ref, nil
}

// LoadArtifact returns the canonical bytes of one artifact version.
// Version 0 means latest.
func (s *Store) LoadArtifact(id, stage string, version int) ([]byte, *ArtifactRef, error) {
	idx, err := s.loadArtifactIndex(id, stage)
	if err != nil {
		return nil, nil, err
	}
	if len(idx.Versions) == 0 {
		return nil, nil, fmt.Errorf("stage %s: %w", stage, ErrArtifactNotFound)
	}

	var ref *ArtifactRef
	if version == 0 {
		ref = &idx.Versions[len(idx.Versions)-1]
	} else {
		for i := range idx.Versions {
			if idx.Versions[i].Version == version {
				ref = &idx.Versions[i]
				break
			}
		}
	}
	if ref == nil {
		return nil, nil, fmt.Errorf("stage %s version %d: %w", stage, version, ErrArtifactNotFound)
	}

	path := filepath.Join(s.stageArtifactDir(id, stage), ref.Hash+".yaml")
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, &CorruptionError{TaskID: id, Path: path, Err: err}
	}
	if HashBytes(content) != ref.Hash {
		return nil, nil, &CorruptionError{
			TaskID: id,
			Path:   path,
			Err:    fmt.Errorf("artifact bytes do not match recorded hash %s", ref.Hash),
		}
	}
	return content, ref, nil
}

// LatestArtifact is shorthand for LoadArtifact at the head version.
func (s *Store) LatestArtifact(id, stage string) ([]byte, *ArtifactRef, error) {
	return s.LoadArtifact(id, stage, 0)
}

// ArtifactVersions lists all stored versions for a stage, oldest first.
func (s *Store) ArtifactVersions(id, stage string) ([]ArtifactRef, error) {
	idx, err := s.loadArtifactIndex(id, stage)
	if err != nil {
		return nil, err
	}
	return idx.Versions, nil
}

// UpdateArtifactStatus marks one version, e.g. rejected after a failed
// review iteration.
func (s *Store) UpdateArtifactStatus(id, stage string, version int, status string) error {
	return s.withTaskLock(id, func() error {
		idx, err := s.loadArtifactIndex(id, stage)
		if err != nil {
			return err
		}
		for i := range idx.Versions {
			if idx.Versions[i].Version == version {
				idx.Versions[i].Status = status
				return writeYAMLAtomic(
					filepath.Join(s.stageArtifactDir(id, stage), artifactIndexFile), idx)
			}
		}
		return fmt.Errorf("stage %s version %d: %w", stage, version, ErrArtifactNotFound)
	})
}

// SaveSnapshot stores the unified diff produced by one step under
// snapshots/, named by step index. Returns the stored path.
func (s *Store) SaveSnapshot(id string, step int, diff []byte) (string, error) {
	dir := filepath.Join(s.TaskDir(id), snapshotsDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create snapshots dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("step_%04d.patch", step))
	if err := writeBytesAtomic(path, diff); err != nil {
		return "", err
	}
	return path, nil
}

// LoadSnapshot reads the diff recorded for one step.
func (s *Store) LoadSnapshot(id string, step int) ([]byte, error) {
	path := filepath.Join(s.TaskDir(id), snapshotsDir, fmt.Sprintf("step_%04d.patch", step))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load snapshot for step %d: %w", step, err)
	}
	return data, nil
}

func (s *Store) loadArtifactIndex(id, stage string) (*artifactIndex, error) {
	path := filepath.Join(s.stageArtifactDir(id, stage), artifactIndexFile)
	var idx artifactIndex
	if err := readYAML(path, &idx); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &artifactIndex{Version: SchemaVersion, Stage: stage}, nil
		}
		return nil, &CorruptionError{TaskID: id, Path: path, Err: err}
	}
	return &idx, nil
}

func writeBytesAtomic(path string, data []byte) error {
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

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

// Package recorder provides the record and playback client decorators:
// record delegates to a real client and appends request/response pairs
// to a YAML recording; playback replays a recording sequentially.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/agentforge/pkg/llm"
)

// ErrRecordingExhausted is returned by a playback client when more calls
// are made than the recording holds.
var ErrRecordingExhausted = errors.New("recording exhausted")

// Exchange is one recorded request/response pair.
type Exchange struct {
	Request    llm.Request  `yaml:"request"`
	Response   llm.Response `yaml:"response"`
	RecordedAt time.Time    `yaml:"recorded_at"`
}

// Recording is the on-disk YAML shape.
type Recording struct {
	Provider  string     `yaml:"provider"`
	Model     string     `yaml:"model"`
	Exchanges []Exchange `yaml:"exchanges"`
}

// Recorder wraps a real client and persists every exchange. The file is
// rewritten after each call so a crash loses at most the in-flight one.
type Recorder struct {
	inner llm.Client
	path  string

	mu        sync.Mutex
	recording Recording
}

// NewRecorder wraps inner, writing the recording to path.
func NewRecorder(inner llm.Client, path string) *Recorder {
	return &Recorder{
		inner: inner,
		path:  path,
		recording: Recording{
			Provider: inner.Name(),
			Model:    inner.Model(),
		},
	}
}

func (r *Recorder) Name() string  { return r.inner.Name() }
func (r *Recorder) Model() string { return r.inner.Model() }

// Complete delegates and appends the exchange to the recording.
func (r *Recorder) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	resp, err := r.inner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording.Exchanges = append(r.recording.Exchanges, Exchange{
		Request:    *req,
		Response:   *resp,
		RecordedAt: time.Now().UTC(),
	})
	if err := r.flushLocked(); err != nil {
		return nil, fmt.Errorf("persist recording: %w", err)
	}
	return resp, nil
}

func (r *Recorder) flushLocked() error {
	data, err := yaml.Marshal(r.recording)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

// Playback replays a recording in order, ignoring request content. Calls
// beyond the recorded count fail with ErrRecordingExhausted.
type Playback struct {
	recording Recording

	mu   sync.Mutex
	next int
}

// NewPlayback loads a recording file.
func NewPlayback(path string) (*Playback, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	var rec Recording
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode recording: %w", err)
	}
	return &Playback{recording: rec}, nil
}

func (p *Playback) Name() string { return "playback" }

func (p *Playback) Model() string {
	if p.recording.Model != "" {
		return p.recording.Model
	}
	return "playback"
}

// Complete returns the next recorded response.
func (p *Playback) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next >= len(p.recording.Exchanges) {
		return nil, fmt.Errorf("call %d of %d: %w",
			p.next+1, len(p.recording.Exchanges), ErrRecordingExhausted)
	}
	resp := p.recording.Exchanges[p.next].Response
	p.next++
	return &resp, nil
}

var (
	_ llm.Client = (*Recorder)(nil)
	_ llm.Client = (*Playback)(nil)
)

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

// Package factory builds the completion client for the configured mode.
package factory

import (
	"fmt"
	"os"
	"time"

	"github.com/teradata-labs/agentforge/pkg/llm"
	"github.com/teradata-labs/agentforge/pkg/llm/anthropic"
	"github.com/teradata-labs/agentforge/pkg/llm/recorder"
	"github.com/teradata-labs/agentforge/pkg/llm/simulated"
)

// Client modes.
const (
	ModeReal      = "real"
	ModeSimulated = "simulated"
	ModeRecord    = "record"
	ModePlayback  = "playback"
)

// Config selects and parameterizes the client. Zero fields fall back to
// AGENTFORGE_LLM_* environment variables, then defaults.
type Config struct {
	// Mode is real, simulated, record or playback (default simulated)
	Mode string

	// APIKey authenticates the real client
	APIKey string

	// Model overrides the provider default
	Model string

	// Endpoint overrides the provider endpoint
	Endpoint string

	// Timeout bounds one completion round trip
	Timeout time.Duration

	// ScriptPath locates the simulated-mode script
	ScriptPath string

	// RecordingPath locates the record/playback recording
	RecordingPath string
}

func (c *Config) applyEnv() {
	if c.Mode == "" {
		c.Mode = os.Getenv("AGENTFORGE_LLM_MODE")
	}
	if c.Mode == "" {
		c.Mode = ModeSimulated
	}
	if c.ScriptPath == "" {
		c.ScriptPath = os.Getenv("AGENTFORGE_LLM_SCRIPT")
	}
	if c.RecordingPath == "" {
		c.RecordingPath = os.Getenv("AGENTFORGE_LLM_RECORDING")
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

// New builds the client for cfg.Mode.
func New(cfg Config) (llm.Client, error) {
	cfg.applyEnv()

	switch cfg.Mode {
	case ModeReal:
		return newReal(cfg)

	case ModeSimulated:
		if cfg.ScriptPath == "" {
			return nil, fmt.Errorf("simulated mode requires a script path")
		}
		return simulated.Load(cfg.ScriptPath)

	case ModeRecord:
		if cfg.RecordingPath == "" {
			return nil, fmt.Errorf("record mode requires a recording path")
		}
		inner, err := newReal(cfg)
		if err != nil {
			return nil, err
		}
		return recorder.NewRecorder(inner, cfg.RecordingPath), nil

	case ModePlayback:
		if cfg.RecordingPath == "" {
			return nil, fmt.Errorf("playback mode requires a recording path")
		}
		return recorder.NewPlayback(cfg.RecordingPath)

	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
}

func newReal(cfg Config) (llm.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("real mode requires an API key")
	}
	return anthropic.NewClient(anthropic.Config{
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		Endpoint: cfg.Endpoint,
		Timeout:  cfg.Timeout,
	}), nil
}

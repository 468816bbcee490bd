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
package main

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/agentforge/embedded"
	"github.com/teradata-labs/agentforge/internal/log"
	"github.com/teradata-labs/agentforge/pkg/agent"
	"github.com/teradata-labs/agentforge/pkg/bridge"
	"github.com/teradata-labs/agentforge/pkg/config"
	"github.com/teradata-labs/agentforge/pkg/conformance"
	"github.com/teradata-labs/agentforge/pkg/contextbuilder"
	"github.com/teradata-labs/agentforge/pkg/contract"
	"github.com/teradata-labs/agentforge/pkg/escalation"
	"github.com/teradata-labs/agentforge/pkg/executor"
	"github.com/teradata-labs/agentforge/pkg/llm"
	"github.com/teradata-labs/agentforge/pkg/llm/factory"
	"github.com/teradata-labs/agentforge/pkg/llm/simulated"
	"github.com/teradata-labs/agentforge/pkg/orchestration"
	"github.com/teradata-labs/agentforge/pkg/state"
	"github.com/teradata-labs/agentforge/pkg/tokens"
)

// app is the fully wired pipeline stack behind the run-bearing commands.
type app struct {
	cfg         *config.Config
	store       *state.Store
	contracts   *contract.Registry
	agents      *agent.Registry
	templates   *orchestration.TemplateRegistry
	gate        *conformance.Gate
	escalations *escalation.Manager
	stages      *orchestration.StageExecutor
	ctrl        *orchestration.Controller
}

// registries holds the definition registries alone, for commands that list
// or validate definitions without running anything.
type registries struct {
	contracts *contract.Registry
	agents    *agent.Registry
	templates *orchestration.TemplateRegistry
}

// newRegistries layers user definition directories over the embedded
// defaults. Broken user files are logged and skipped; broken embedded
// defaults are a build defect and fail hard.
func newRegistries(cfg *config.Config) (*registries, error) {
	contracts := contract.NewRegistry()
	for _, name := range embedded.Names(embedded.Contracts()) {
		if err := contracts.Register(embedded.Contracts()[name]); err != nil {
			return nil, fmt.Errorf("embedded contract %s: %w", name, err)
		}
	}
	if dirExists(cfg.Definitions.ContractsDir) {
		if err := contracts.RegisterDir(cfg.Definitions.ContractsDir); err != nil {
			log.Warn("contract directory load", zap.Error(err))
		}
	}

	counter, err := tokens.NewCounter(cfg.Tokens.Mode)
	if err != nil {
		return nil, err
	}

	agents := agent.NewRegistry(contracts, counter)
	for _, name := range embedded.Names(embedded.Agents()) {
		if err := agents.Register(embedded.Agents()[name], name); err != nil {
			return nil, fmt.Errorf("embedded agent %s: %w", name, err)
		}
	}
	if dirExists(cfg.Definitions.AgentsDir) {
		for _, err := range agents.LoadDir(cfg.Definitions.AgentsDir) {
			log.Warn("agent definition skipped", zap.Error(err))
		}
	}
	if err := agents.Finalize(); err != nil {
		return nil, fmt.Errorf("agent cross-references: %w", err)
	}

	templates := orchestration.NewTemplateRegistry(agents, contracts)
	for _, name := range embedded.Names(embedded.Templates()) {
		if err := templates.Register(embedded.Templates()[name], name); err != nil {
			return nil, fmt.Errorf("embedded template %s: %w", name, err)
		}
	}
	if dirExists(cfg.Definitions.TemplatesDir) {
		for _, err := range templates.LoadDir(cfg.Definitions.TemplatesDir) {
			log.Warn("template skipped", zap.Error(err))
		}
	}

	return &registries{contracts: contracts, agents: agents, templates: templates}, nil
}

// newApp wires the full stack: store, registries, gate, tools, LLM client,
// executor, escalations and controller.
func newApp(cfg *config.Config) (*app, error) {
	store, err := state.NewStore(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	regs, err := newRegistries(cfg)
	if err != nil {
		return nil, err
	}

	rules, err := loadRules(cfg.Conformance.RulesPath)
	if err != nil {
		return nil, err
	}
	gate, err := conformance.NewGate(cfg.Workspace, rules, cfg.Conformance.CacheDir)
	if err != nil {
		return nil, err
	}

	tools := bridge.NewRegistry()
	bridge.RegisterBuiltins(tools, cfg.Workspace, gate)

	client, err := buildClient(cfg)
	if err != nil {
		return nil, &codedError{code: exitConfig, err: err}
	}

	counter, err := tokens.NewCounter(cfg.Tokens.Mode)
	if err != nil {
		return nil, err
	}
	exec := executor.New(store, contextbuilder.New(counter), client, gate)
	exec.SetLLMTimeout(time.Duration(cfg.Executor.LLMTimeoutSeconds) * time.Second)
	exec.SetLLMRetries(cfg.Executor.LLMRetries)

	escalations := escalation.NewManager(store)

	stages := orchestration.NewStageExecutor(store, regs.agents, regs.contracts, tools, exec, escalations, cfg.Workspace)
	if cfg.Executor.MaxSteps > 0 {
		stages.MaxSteps = cfg.Executor.MaxSteps
	}
	if cfg.Executor.MaxRevisions > 0 {
		stages.MaxRevisions = cfg.Executor.MaxRevisions
	}

	ctrl := orchestration.NewController(store, regs.templates, stages, cfg.Workspace)

	return &app{
		cfg:         cfg,
		store:       store,
		contracts:   regs.contracts,
		agents:      regs.agents,
		templates:   regs.templates,
		gate:        gate,
		escalations: escalations,
		stages:      stages,
		ctrl:        ctrl,
	}, nil
}

// buildClient selects the LLM client. Simulated mode without an explicit
// script falls back to the embedded default script, so a fresh install runs
// out of the box.
func buildClient(cfg *config.Config) (llm.Client, error) {
	mode := cfg.LLM.Mode
	if mode == "" {
		mode = os.Getenv("AGENTFORGE_LLM_MODE")
	}
	if mode == "" {
		mode = factory.ModeSimulated
	}

	script := cfg.LLM.ScriptPath
	if script == "" {
		script = os.Getenv("AGENTFORGE_LLM_SCRIPT")
	}
	if mode == factory.ModeSimulated && script == "" {
		return simulated.Parse(embedded.SimulatedScript())
	}

	return factory.New(factory.Config{
		Mode:          mode,
		APIKey:        config.APIKey(),
		Model:         cfg.LLM.Model,
		Endpoint:      cfg.LLM.Endpoint,
		Timeout:       time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		ScriptPath:    script,
		RecordingPath: cfg.LLM.RecordingPath,
	})
}

// loadRules reads the conformance ruleset; a missing file means an empty
// ruleset, not an error.
func loadRules(path string) (*conformance.RuleSet, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return conformance.ParseRuleSet([]byte("version: 1\n"))
	}
	return conformance.LoadRuleSet(path)
}

func openStore(cfg *config.Config) (*state.Store, error) {
	return state.NewStore(cfg.StateDir)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

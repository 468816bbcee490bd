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
package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ConfigFileName is the base name of the config file (agentforge.yaml).
const ConfigFileName = "agentforge"

// Config is the full forge configuration.
// Priority: CLI flags > config file > AGENTFORGE_* env > defaults.
type Config struct {
	// DataDir is resolved from the environment, never the config file.
	DataDir string `mapstructure:"-"`

	// Workspace is the codebase root agents operate on.
	Workspace string `mapstructure:"workspace"`

	// StateDir holds per-task state; defaults under DataDir.
	StateDir string `mapstructure:"state_dir"`

	LLM         LLMConfig         `mapstructure:"llm"`
	Tokens      TokensConfig      `mapstructure:"tokens"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
	Conformance ConformanceConfig `mapstructure:"conformance"`
	Definitions DefinitionsConfig `mapstructure:"definitions"`
	Runner      RunnerConfig      `mapstructure:"runner"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// LLMConfig selects and tunes the model client.
type LLMConfig struct {
	// Mode is real, simulated, record or playback.
	Mode string `mapstructure:"mode"`

	Model          string `mapstructure:"model"`
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxTokens      int    `mapstructure:"max_tokens"`

	// ScriptPath feeds simulated mode; RecordingPath feeds record/playback.
	ScriptPath    string `mapstructure:"script_path"`
	RecordingPath string `mapstructure:"recording_path"`
}

// TokensConfig picks the counting mode (tiktoken or heuristic).
type TokensConfig struct {
	Mode string `mapstructure:"mode"`
}

// ExecutorConfig tunes the step and stage loops.
type ExecutorConfig struct {
	MaxSteps          int `mapstructure:"max_steps"`
	MaxRevisions      int `mapstructure:"max_revisions"`
	LLMRetries        int `mapstructure:"llm_retries"`
	LLMTimeoutSeconds int `mapstructure:"llm_timeout_seconds"`
}

// ConformanceConfig locates the ruleset and the verdict cache.
type ConformanceConfig struct {
	RulesPath string `mapstructure:"rules_path"`
	CacheDir  string `mapstructure:"cache_dir"`
}

// DefinitionsConfig points at user-supplied definition directories layered
// over the embedded defaults.
type DefinitionsConfig struct {
	AgentsDir    string `mapstructure:"agents_dir"`
	TemplatesDir string `mapstructure:"templates_dir"`
	ContractsDir string `mapstructure:"contracts_dir"`
}

// RunnerConfig bounds cross-task parallelism.
type RunnerConfig struct {
	Limit int `mapstructure:"limit"`
}

// LoggingConfig tunes the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load resolves the configuration. cfgFile overrides the search path
// ($AGENTFORGE_CONFIG, ./agentforge.yaml, {DataDir}/agentforge.yaml).
// A .env file in the working directory is loaded first so env lookups see
// it; a missing .env is fine.
func Load(cfgFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	dataDir := DataDir()
	setDefaults(v, dataDir)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(ConfigFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(dataDir)
	}

	v.SetEnvPrefix("AGENTFORGE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.DataDir = dataDir
	return &cfg, nil
}

func setDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault("workspace", ".")
	v.SetDefault("state_dir", filepath.Join(dataDir, "tasks"))

	v.SetDefault("llm.mode", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.timeout_seconds", 120)
	v.SetDefault("llm.max_tokens", 4096)

	v.SetDefault("tokens.mode", "tiktoken")

	v.SetDefault("executor.max_steps", 100)
	v.SetDefault("executor.max_revisions", 3)
	v.SetDefault("executor.llm_retries", 2)
	v.SetDefault("executor.llm_timeout_seconds", 300)

	v.SetDefault("conformance.rules_path", filepath.Join(dataDir, "conformance.yaml"))
	v.SetDefault("conformance.cache_dir", filepath.Join(dataDir, "cache"))

	v.SetDefault("definitions.agents_dir", filepath.Join(dataDir, "agents"))
	v.SetDefault("definitions.templates_dir", filepath.Join(dataDir, "templates"))
	v.SetDefault("definitions.contracts_dir", filepath.Join(dataDir, "contracts"))

	v.SetDefault("runner.limit", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

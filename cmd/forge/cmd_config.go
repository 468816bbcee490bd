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

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/agentforge/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration and manage secrets",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration merged from all sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("data_dir: %s\n", cfg.DataDir)
		out, err := yaml.Marshal(map[string]interface{}{
			"workspace": cfg.Workspace,
			"state_dir": cfg.StateDir,
			"llm": map[string]interface{}{
				"mode":            cfg.LLM.Mode,
				"model":           cfg.LLM.Model,
				"timeout_seconds": cfg.LLM.TimeoutSeconds,
				"max_tokens":      cfg.LLM.MaxTokens,
				"script_path":     cfg.LLM.ScriptPath,
				"recording_path":  cfg.LLM.RecordingPath,
			},
			"tokens": map[string]interface{}{"mode": cfg.Tokens.Mode},
			"executor": map[string]interface{}{
				"max_steps":           cfg.Executor.MaxSteps,
				"max_revisions":       cfg.Executor.MaxRevisions,
				"llm_retries":         cfg.Executor.LLMRetries,
				"llm_timeout_seconds": cfg.Executor.LLMTimeoutSeconds,
			},
			"conformance": map[string]interface{}{
				"rules_path": cfg.Conformance.RulesPath,
				"cache_dir":  cfg.Conformance.CacheDir,
			},
			"definitions": map[string]interface{}{
				"agents_dir":    cfg.Definitions.AgentsDir,
				"templates_dir": cfg.Definitions.TemplatesDir,
				"contracts_dir": cfg.Definitions.ContractsDir,
			},
			"runner":  map[string]interface{}{"limit": cfg.Runner.Limit},
			"logging": map[string]interface{}{"level": cfg.Logging.Level, "format": cfg.Logging.Format},
		})
		if err != nil {
			return err
		}
		fmt.Print(string(out))

		if config.APIKey() != "" {
			fmt.Println("anthropic_api_key: (set)")
		} else {
			fmt.Println("anthropic_api_key: (not set)")
		}
		return nil
	},
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key <provider>",
	Short: "Save a provider API key to the system keyring",
	Long:  `Save a provider API key to the system keyring. The key is read from the terminal without echo; "anthropic" is the only provider currently supported.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] != "anthropic" {
			return fmt.Errorf("unknown provider %q (supported: anthropic)", args[0])
		}
		fmt.Print("API key: ")
		key, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		if err := config.SaveAPIKey(string(key)); err != nil {
			return err
		}
		fmt.Println("key stored in system keyring")
		return nil
	},
}

var configDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key <provider>",
	Short: "Remove a provider API key from the system keyring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] != "anthropic" {
			return fmt.Errorf("unknown provider %q (supported: anthropic)", args[0])
		}
		if err := config.DeleteAPIKey(); err != nil {
			return err
		}
		fmt.Println("key removed from system keyring")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetKeyCmd, configDeleteKeyCmd)
}

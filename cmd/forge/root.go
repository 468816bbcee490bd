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
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/agentforge/internal/log"
	"github.com/teradata-labs/agentforge/internal/version"
	"github.com/teradata-labs/agentforge/pkg/config"
	"github.com/teradata-labs/agentforge/pkg/orchestration"
)

// Exit codes. Suspension for a user decision is a normal outcome and
// exits 0.
const (
	exitOK       = 0
	exitTaskErr  = 1 // violations remain, task escalated or failed
	exitConfig   = 2
	exitRuntime  = 3
	exitExternal = 4 // required external missing, stale or refused
)

var (
	cfgFile string
	rootDir string
	verbose bool
	jsonOut bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "forge",
	Short:   "AgentForge - autonomous software-development agent pipelines",
	Long:    `AgentForge runs contract-gated agent pipelines over a codebase: design, implementation, testing and conformance fixes, with every step audited and every artifact validated.`,
	Version: version.Get(),

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile)
		if err != nil {
			return &codedError{code: exitConfig, err: err}
		}
		if rootDir != "" {
			c.Workspace = rootDir
		}
		cfg = c

		if verbose {
			log.InitWith("debug", cfg.Logging.Format)
		} else {
			log.InitWith(cfg.Logging.Level, cfg.Logging.Format)
		}
		return nil
	},
}

// codedError pins a specific exit code to an error.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var coded *codedError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &coded):
		return coded.code
	case errors.Is(err, orchestration.ErrAdmissionRefused),
		errors.Is(err, orchestration.ErrStaleExternal):
		return exitExternal
	case errors.Is(err, orchestration.ErrEscalationPending),
		errors.Is(err, orchestration.ErrStageFailed):
		return exitTaskErr
	default:
		return exitRuntime
	}
}

// Execute runs the root command and maps the result to an exit code.
// Interrupts cancel the command context; the controller records the task
// as cancelled so continue can resume it.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = log.Sync()
	if err == nil {
		os.Exit(exitOK)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(exitCode(err))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./agentforge.yaml, then $AGENTFORGE_DATA_DIR/agentforge.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "workspace root the agents operate on (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "machine-readable JSON output")

	rootCmd.AddCommand(
		startCmd,
		designCmd,
		implementCmd,
		testCmd,
		fixCmd,
		continueCmd,
		feedbackCmd,
		approveCmd,
		rejectCmd,
		statusCmd,
		resolveCmd,
		replayCmd,
		forkCmd,
		agentsCmd,
		templatesCmd,
		contractsCmd,
		validateCmd,
		configCmd,
		versionCmd,
	)
}

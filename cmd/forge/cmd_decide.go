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
	"time"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/agentforge/pkg/orchestration"
	"github.com/teradata-labs/agentforge/pkg/state"
	"github.com/teradata-labs/agentforge/pkg/types"
)

var (
	continueExtendTo string
	continueRevise   bool
	continueExit     bool
)

var continueCmd = &cobra.Command{
	Use:   "continue <task_id> [<task_id>...]",
	Short: "Resume suspended or cancelled tasks, optionally extending the pipeline",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if moreThanOne(continueExtendTo != "", continueRevise, continueExit) {
			return fmt.Errorf("--extend-to, --revise and --exit are mutually exclusive")
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		if len(args) > 1 {
			if continueExtendTo != "" || continueRevise || continueExit {
				return fmt.Errorf("decision flags apply to a single task")
			}
			return continueMany(cmd, a, args)
		}
		taskID := args[0]

		switch {
		case continueExtendTo != "":
			if err := decide(a, taskID, &state.UserDecision{
				Decision:       types.DecisionExtend,
				ExtendTemplate: continueExtendTo,
			}); err != nil {
				return err
			}
		case continueRevise:
			if err := decide(a, taskID, &state.UserDecision{Decision: types.DecisionRevise}); err != nil {
				return err
			}
		case continueExit:
			if err := decide(a, taskID, &state.UserDecision{Decision: types.DecisionExit}); err != nil {
				return err
			}
		default:
			ts, err := a.store.LoadState(taskID)
			if err != nil {
				return err
			}
			if ts.Status == state.TaskCancelled {
				if err := a.ctrl.Resume(taskID); err != nil {
					return err
				}
			}
		}
		return runTask(cmd.Context(), a, taskID)
	},
}

var feedbackCmd = &cobra.Command{
	Use:   `feedback <task_id> "<text>"`,
	Short: "Send the presented artifact back for revision with feedback",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		if err := decide(a, args[0], &state.UserDecision{
			Decision: types.DecisionRevise,
			Feedback: args[1],
		}); err != nil {
			return err
		}
		return runTask(cmd.Context(), a, args[0])
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <task_id>",
	Short: "Approve the presented artifact and continue the pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		if err := decide(a, args[0], &state.UserDecision{Decision: types.DecisionApprove}); err != nil {
			return err
		}
		return runTask(cmd.Context(), a, args[0])
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <task_id>",
	Short: "Reject the presented artifact and rerun from the previous stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		if err := decide(a, args[0], &state.UserDecision{Decision: types.DecisionReject}); err != nil {
			return err
		}
		return runTask(cmd.Context(), a, args[0])
	},
}

func init() {
	continueCmd.Flags().StringVar(&continueExtendTo, "extend-to", "", "follow-on template whose stages extend the pipeline")
	continueCmd.Flags().BoolVar(&continueRevise, "revise", false, "send the presented artifact back without feedback text")
	continueCmd.Flags().BoolVar(&continueExit, "exit", false, "accept the presented artifact as the final deliverable and end the pipeline")
}

// continueMany drives independent tasks concurrently through the runner.
func continueMany(cmd *cobra.Command, a *app, taskIDs []string) error {
	for _, taskID := range taskIDs {
		ts, err := a.store.LoadState(taskID)
		if err != nil {
			return err
		}
		if ts.Status == state.TaskCancelled {
			if err := a.ctrl.Resume(taskID); err != nil {
				return err
			}
		}
	}

	runner := orchestration.NewRunner(a.ctrl, cfg.Runner.Limit)
	results, err := runner.RunAll(cmd.Context(), taskIDs)
	if err != nil {
		return err
	}

	var failed bool
	for _, taskID := range taskIDs {
		if rerr := results[taskID]; rerr != nil {
			failed = true
			fmt.Printf("task %s: %v\n", taskID, rerr)
			continue
		}
		ts, lerr := a.store.LoadState(taskID)
		if lerr != nil {
			return lerr
		}
		fmt.Printf("task %s %s\n", taskID, ts.Status)
	}
	if failed {
		return &codedError{code: exitTaskErr, err: fmt.Errorf("one or more tasks did not complete")}
	}
	return nil
}

func moreThanOne(flags ...bool) bool {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n > 1
}

func decide(a *app, taskID string, decision *state.UserDecision) error {
	decision.DecidedAt = time.Now().UTC()
	return a.ctrl.Decide(taskID, decision)
}

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

	"github.com/teradata-labs/agentforge/pkg/audit"
	"github.com/teradata-labs/agentforge/pkg/state"
)

var (
	replayActionsOnly bool
	replayAgainst     string
	replayDir         string

	forkFromStep int
	forkDir      string
)

var replayCmd = &cobra.Command{
	Use:   "replay <task_id>",
	Short: "Inspect, replay or compare a task's action ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		taskID := args[0]

		switch {
		case replayActionsOnly:
			dir := replayDir
			if dir == "" {
				dir, err = os.MkdirTemp("", "forge-replay-")
				if err != nil {
					return err
				}
			}
			applied, err := audit.NewReplayer(store).ReplayActions(taskID, dir)
			if err != nil {
				return err
			}
			fmt.Printf("replayed %d write actions into %s\n", applied, dir)
			return nil

		case replayAgainst != "":
			divergences, err := audit.NewReader(store).Compare(taskID, replayAgainst)
			if err != nil {
				return err
			}
			if len(divergences) == 0 {
				fmt.Println("action streams are identical")
				return nil
			}
			for _, d := range divergences {
				fmt.Printf("%4d  %-6s  %s\n", d.Index, d.Kind, d.Text)
			}
			return nil

		default:
			steps, err := audit.NewReader(store).Read(taskID)
			if err != nil {
				return err
			}
			printLedger(steps)
			return nil
		}
	},
}

var forkCmd = &cobra.Command{
	Use:   "fork <task_id> --from-step N",
	Short: "Fork a new task from a prior task's state as of step N",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		dir := forkDir
		if dir == "" {
			dir, err = os.MkdirTemp("", "forge-fork-")
			if err != nil {
				return err
			}
		}
		task, err := audit.NewReplayer(store).Fork(args[0], forkFromStep, dir)
		if err != nil {
			return err
		}
		fmt.Printf("forked task %s from %s at step %d (workspace %s)\n", task.ID, args[0], forkFromStep, dir)
		return nil
	},
}

func init() {
	replayCmd.Flags().BoolVar(&replayActionsOnly, "actions-only", false, "re-apply write-bearing actions into a scratch directory")
	replayCmd.Flags().StringVar(&replayAgainst, "against", "", "compare the action stream with another task")
	replayCmd.Flags().StringVar(&replayDir, "dir", "", "target directory for --actions-only (default: temp dir)")

	forkCmd.Flags().IntVar(&forkFromStep, "from-step", 0, "ledger step to fork from")
	forkCmd.Flags().StringVar(&forkDir, "dir", "", "workspace directory for the fork (default: temp dir)")
	_ = forkCmd.MarkFlagRequired("from-step")
}

func printLedger(steps []state.StepRecord) {
	for _, step := range steps {
		fmt.Printf("%4d  %-22s  %s", step.Step, step.Event, step.Stage)
		for _, action := range step.Actions {
			fmt.Printf("  %s", action.Tool)
		}
		fmt.Println()
	}
}

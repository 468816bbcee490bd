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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/agentforge/pkg/conformance"
	"github.com/teradata-labs/agentforge/pkg/executor"
	"github.com/teradata-labs/agentforge/pkg/orchestration"
	"github.com/teradata-labs/agentforge/pkg/state"
	"github.com/teradata-labs/agentforge/pkg/types"
)

var (
	startTemplate   string
	startSupervised bool

	implementFromSpec string
	implementFromTask string

	testSpec string

	fixReport string
)

var startCmd = &cobra.Command{
	Use:   `start "<request>"`,
	Short: "Run the full feature pipeline for a request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		return startAndRun(cmd.Context(), a, &orchestration.StartOptions{
			Request:    args[0],
			GoalType:   state.GoalImplementFeature,
			Template:   startTemplate,
			Supervised: startSupervised,
		})
	},
}

var designCmd = &cobra.Command{
	Use:   `design "<request>"`,
	Short: "Run the design pipeline to a specification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		return startAndRun(cmd.Context(), a, &orchestration.StartOptions{
			Request:  args[0],
			GoalType: state.GoalDesign,
			Template: "design",
		})
	},
}

var implementCmd = &cobra.Command{
	Use:   `implement "<request>"`,
	Short: "Run implementation, optionally from an external spec or a prior task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if implementFromSpec != "" && implementFromTask != "" {
			return fmt.Errorf("--from-spec and --from-task are mutually exclusive")
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}

		opts := &orchestration.StartOptions{
			Request:  args[0],
			GoalType: state.GoalImplementFeature,
			Template: "feature",
		}
		switch {
		case implementFromSpec != "":
			opts.Externals = []orchestration.External{{Path: implementFromSpec, Contract: "design_doc"}}
		case implementFromTask != "":
			opts.FromTask = implementFromTask
		default:
			opts.Entry = "implement"
		}
		return startAndRun(cmd.Context(), a, opts)
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Write tests against an existing specification",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if testSpec == "" {
			return &codedError{code: exitExternal, err: fmt.Errorf("test requires --spec")}
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		return startAndRun(cmd.Context(), a, &orchestration.StartOptions{
			Request:   fmt.Sprintf("write tests for the specification at %s", testSpec),
			GoalType:  state.GoalWriteTests,
			Template:  "tests",
			Externals: []orchestration.External{{Path: testSpec, Contract: "design_doc"}},
		})
	},
}

var fixCmd = &cobra.Command{
	Use:   "fix <violation_id>",
	Short: "Analyze and fix one conformance violation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report := fixReport
		if report == "" {
			report = filepath.Join(cfg.Workspace, "conformance_report.yaml")
		}
		loaded, err := conformance.LoadReport(report)
		if err != nil {
			return &codedError{code: exitExternal, err: err}
		}
		violation, ok := loaded.Find(args[0])
		if !ok {
			return &codedError{code: exitExternal, err: fmt.Errorf("violation %s not in %s", args[0], report)}
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		v := violation.Violation
		return startAndRun(cmd.Context(), a, &orchestration.StartOptions{
			Request:   fmt.Sprintf("fix conformance violation %s: %s", violation.ID, v.String()),
			GoalType:  state.GoalFixViolation,
			Template:  "fix",
			Violation: &v,
		})
	},
}

func init() {
	startCmd.Flags().StringVar(&startTemplate, "template", "feature", "pipeline template")
	startCmd.Flags().BoolVar(&startSupervised, "supervised", false, "present every stage for approval")

	implementCmd.Flags().StringVar(&implementFromSpec, "from-spec", "", "external specification file admitted against the design_doc contract")
	implementCmd.Flags().StringVar(&implementFromTask, "from-task", "", "prior task whose deliverable seeds this one")

	testCmd.Flags().StringVar(&testSpec, "spec", "", "specification file to write tests against (required)")

	fixCmd.Flags().StringVar(&fixReport, "report", "", "violation report file (default: <workspace>/conformance_report.yaml)")
}

// startAndRun creates the task and drives it until it completes or
// suspends. Suspension for a user decision exits 0 with guidance.
func startAndRun(ctx context.Context, a *app, opts *orchestration.StartOptions) error {
	task, err := a.ctrl.StartTask(ctx, opts)
	if err != nil {
		return err
	}
	fmt.Printf("task %s created (template %s)\n", task.ID, task.Template)
	return runTask(ctx, a, task.ID)
}

// runTask drives one task and reports its resting state.
func runTask(ctx context.Context, a *app, taskID string) error {
	err := a.ctrl.Run(ctx, taskID)
	switch {
	case err == nil:
		return reportDone(a, taskID)

	case errors.Is(err, orchestration.ErrAwaitingDecision):
		ts, lerr := a.store.LoadState(taskID)
		if lerr == nil && ts.PendingDecision != nil {
			fmt.Printf("task %s: stage %s presented artifact v%d (%s)\n",
				taskID, ts.PendingDecision.Stage, ts.PendingDecision.Version, short(ts.PendingDecision.ArtifactHash))
		}
		fmt.Printf("decide with: forge approve %s | forge feedback %s \"<text>\" | forge reject %s\n",
			taskID, taskID, taskID)
		return nil

	case errors.Is(err, orchestration.ErrEscalationPending):
		pending, perr := a.escalations.Pending(taskID)
		if perr == nil {
			for _, esc := range pending {
				fmt.Printf("task %s escalated at stage %s: %s\n", taskID, esc.Stage, esc.Reason)
				fmt.Printf("resolve with: forge resolve %s \"<guidance>\"\n", esc.ID)
			}
		}
		return err

	case errors.Is(err, executor.ErrCancelled):
		fmt.Printf("task %s cancelled; resume with: forge continue %s\n", taskID, taskID)
		return nil

	default:
		return err
	}
}

func reportDone(a *app, taskID string) error {
	ts, err := a.store.LoadState(taskID)
	if err != nil {
		return err
	}
	fmt.Printf("task %s %s", taskID, ts.Status)
	if ts.Usage != (types.Usage{}) {
		fmt.Printf(" (%d tokens", ts.Usage.TotalTokens)
		if ts.Usage.CostUSD > 0 {
			fmt.Printf(", $%.4f", ts.Usage.CostUSD)
		}
		fmt.Print(")")
	}
	fmt.Println()
	return nil
}

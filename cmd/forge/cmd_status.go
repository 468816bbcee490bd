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
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/teradata-labs/agentforge/pkg/state"
	"github.com/teradata-labs/agentforge/pkg/types"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status [<task_id>]",
	Short: "Show task status, tabular on a tty and JSON otherwise",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}

		taskID := ""
		if len(args) == 1 {
			taskID = args[0]
		}

		render := func() error {
			if taskID != "" {
				return renderTask(store, taskID)
			}
			return renderList(store)
		}

		if !statusWatch {
			return render()
		}
		return watch(cmd, store, taskID, render)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "re-render on state changes")
}

// watch re-renders on writes under the watched directory until the command
// context ends.
func watch(cmd *cobra.Command, store *state.Store, taskID string, render func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := store.Root()
	if taskID != "" {
		dir = store.TaskDir(taskID)
	}
	if err := watcher.Add(dir); err != nil {
		return err
	}

	if err := render(); err != nil {
		return err
	}

	// Debounce bursts of writes from atomic state rewrites.
	var pending <-chan time.Time
	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				pending = time.After(200 * time.Millisecond)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintln(os.Stderr, "watch:", err)
		case <-pending:
			pending = nil
			if err := render(); err != nil {
				return err
			}
		}
	}
}

// taskView is the JSON shape of one task's status.
type taskView struct {
	ID           string      `json:"id"`
	Request      string      `json:"request,omitempty"`
	Template     string      `json:"template"`
	GoalType     string      `json:"goal_type"`
	Status       string      `json:"status"`
	CurrentStage string      `json:"current_stage,omitempty"`
	Stages       []stageView `json:"stages,omitempty"`
	PendingStage string      `json:"pending_decision_stage,omitempty"`
	Escalation   string      `json:"pending_escalation,omitempty"`
	Usage        types.Usage `json:"usage"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

type stageView struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Agent     string `json:"agent,omitempty"`
	Iteration int    `json:"iteration,omitempty"`
	Artifact  string `json:"artifact_hash,omitempty"`
	Error     string `json:"error,omitempty"`
}

func buildView(task *state.Task, ts *state.TaskState) taskView {
	view := taskView{
		ID:           task.ID,
		Request:      task.Request,
		Template:     task.Template,
		GoalType:     string(task.GoalType),
		Status:       string(ts.Status),
		CurrentStage: ts.CurrentStage,
		Escalation:   ts.PendingEscalation,
		Usage:        ts.Usage,
		UpdatedAt:    ts.UpdatedAt,
	}
	if ts.PendingDecision != nil {
		view.PendingStage = ts.PendingDecision.Stage
	}
	for _, name := range ts.StageOrder {
		st, ok := ts.Stages[name]
		if !ok {
			continue
		}
		view.Stages = append(view.Stages, stageView{
			Name:      st.Name,
			Status:    string(st.Status),
			Agent:     st.Agent,
			Iteration: st.Iteration,
			Artifact:  st.ArtifactHash,
			Error:     st.Error,
		})
	}
	return view
}

func renderTask(store *state.Store, taskID string) error {
	task, err := store.LoadTask(taskID)
	if err != nil {
		return err
	}
	ts, err := store.LoadState(taskID)
	if err != nil {
		return err
	}
	view := buildView(task, ts)

	if !tabular() {
		return printJSON(view)
	}

	fmt.Printf("task %s  %s  (template %s, goal %s)\n", view.ID, view.Status, view.Template, view.GoalType)
	if view.Request != "" {
		fmt.Printf("request: %s\n", view.Request)
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tSTATUS\tAGENT\tITER\tARTIFACT")
	for _, st := range view.Stages {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", st.Name, st.Status, st.Agent, st.Iteration, short(st.Artifact))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if view.PendingStage != "" {
		fmt.Printf("awaiting decision on stage %s\n", view.PendingStage)
	}
	if view.Escalation != "" {
		fmt.Printf("pending escalation %s\n", view.Escalation)
	}
	fmt.Printf("tokens: %d in / %d out", view.Usage.InputTokens, view.Usage.OutputTokens)
	if view.Usage.CostUSD > 0 {
		fmt.Printf(" ($%.4f)", view.Usage.CostUSD)
	}
	fmt.Println()
	return nil
}

func renderList(store *state.Store) error {
	tasks, err := store.ListTasks()
	if err != nil {
		return err
	}

	views := make([]taskView, 0, len(tasks))
	for _, task := range tasks {
		ts, err := store.LoadState(task.ID)
		if err != nil {
			continue
		}
		view := buildView(task, ts)
		view.Stages = nil
		views = append(views, view)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].UpdatedAt.After(views[j].UpdatedAt) })

	if !tabular() {
		return printJSON(views)
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tSTAGE\tTEMPLATE\tUPDATED")
	for _, view := range views {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			view.ID, view.Status, view.CurrentStage, view.Template, view.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func tabular() bool {
	return !jsonOut && term.IsTerminal(int(os.Stdout.Fd()))
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

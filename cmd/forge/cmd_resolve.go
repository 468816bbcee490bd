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

	"github.com/spf13/cobra"

	"github.com/teradata-labs/agentforge/pkg/escalation"
	"github.com/teradata-labs/agentforge/pkg/state"
)

var resolveCmd = &cobra.Command{
	Use:   `resolve <escalation_id> "<text>"`,
	Short: "Resolve a pending escalation with guidance for the agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		escalations := escalation.NewManager(store)

		taskID, err := findEscalationTask(store, escalations, args[0])
		if err != nil {
			return err
		}
		esc, err := escalations.Resolve(taskID, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("escalation %s resolved (task %s, stage %s)\n", esc.ID, taskID, esc.Stage)
		fmt.Printf("resume with: forge continue %s\n", taskID)
		return nil
	},
}

// findEscalationTask locates the task owning a pending escalation id.
func findEscalationTask(store *state.Store, m *escalation.Manager, escID string) (string, error) {
	tasks, err := store.ListTasks()
	if err != nil {
		return "", err
	}
	for _, task := range tasks {
		pending, err := m.Pending(task.ID)
		if err != nil {
			continue
		}
		for _, esc := range pending {
			if esc.ID == escID {
				return task.ID, nil
			}
		}
	}
	return "", fmt.Errorf("no pending escalation %s", escID)
}

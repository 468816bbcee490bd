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
package orchestration

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/agentforge/pkg/executor"
)

// DefaultRunnerLimit bounds concurrent tasks.
const DefaultRunnerLimit = 4

// Runner executes independent tasks concurrently. Within a task execution
// stays strictly sequential; suspensions (decision, escalation) are not
// failures and do not stop sibling tasks.
type Runner struct {
	ctrl  *Controller
	limit int
}

// NewRunner creates a runner; limit <= 0 means DefaultRunnerLimit.
func NewRunner(ctrl *Controller, limit int) *Runner {
	if limit <= 0 {
		limit = DefaultRunnerLimit
	}
	return &Runner{ctrl: ctrl, limit: limit}
}

// suspended reports errors that park a task rather than fail it.
func suspended(err error) bool {
	return errors.Is(err, ErrAwaitingDecision) ||
		errors.Is(err, ErrEscalationPending) ||
		errors.Is(err, executor.ErrCancelled)
}

// RunAll advances every listed task until it completes or suspends. The
// returned map holds per-task results (nil for completed or suspended);
// the error is the first hard failure, if any.
func (r *Runner) RunAll(ctx context.Context, taskIDs []string) (map[string]error, error) {
	results := make(map[string]error, len(taskIDs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	for _, id := range taskIDs {
		id := id
		g.Go(func() error {
			err := r.ctrl.Run(ctx, id)
			if suspended(err) {
				err = nil
			}
			mu.Lock()
			results[id] = err
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	return results, err
}

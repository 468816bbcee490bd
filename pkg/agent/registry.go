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
package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/agentforge/internal/log"
	"github.com/teradata-labs/agentforge/pkg/tokens"
	"github.com/teradata-labs/agentforge/pkg/validation"
)

// ErrAgentNotFound is returned when no definition exists for a role.
var ErrAgentNotFound = errors.New("agent not found")

// ContractChecker reports whether a contract name is registered. Satisfied
// by *contract.Registry.
type ContractChecker interface {
	Has(name string) bool
}

// Registry holds validated agent definitions keyed by role id.
type Registry struct {
	mu        sync.RWMutex
	defs      map[string]*Definition
	contracts ContractChecker
	counter   tokens.Counter
	logger    *zap.Logger
	finalized bool
}

// NewRegistry creates an empty registry. contracts may be nil, in which
// case contract references are not checked.
func NewRegistry(contracts ContractChecker, counter tokens.Counter) *Registry {
	if counter == nil {
		counter = tokens.Default()
	}
	return &Registry{
		defs:      make(map[string]*Definition),
		contracts: contracts,
		counter:   counter,
		logger:    log.Logger(),
	}
}

// Register validates and adds one definition document. A broken definition
// is refused; the registry is unchanged.
func (r *Registry) Register(content []byte, source string) error {
	result := validation.ValidateContent(string(content), source)
	if !result.Valid {
		return fmt.Errorf("agent definition %s: %s", source, result.Format())
	}

	var def Definition
	if err := yaml.Unmarshal(content, &def); err != nil {
		return fmt.Errorf("decode agent definition %s: %w", source, err)
	}
	if def.Kind != validation.KindAgent {
		return fmt.Errorf("agent definition %s: kind is %q, want %q", source, def.Kind, validation.KindAgent)
	}

	if r.contracts != nil && def.Spec.Capabilities.Output.Contract != "" {
		if !r.contracts.Has(def.Spec.Capabilities.Output.Contract) {
			return fmt.Errorf("agent definition %s: output contract %q is not registered",
				source, def.Spec.Capabilities.Output.Contract)
		}
	}

	prompt := BuildSystemPrompt(&def)
	if n := r.counter.Count(prompt); n > SystemPromptBudget {
		return fmt.Errorf("agent definition %s: system prompt is %d tokens, budget is %d",
			source, n, SystemPromptBudget)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return fmt.Errorf("agent definition %s: registry is finalized", source)
	}
	if _, exists := r.defs[def.Role()]; exists {
		return fmt.Errorf("agent definition %s: duplicate role %q", source, def.Role())
	}
	r.defs[def.Role()] = &def
	return nil
}

// LoadDir registers every .yaml/.yml file in dir. Broken files are skipped
// and reported; loading continues for the rest.
func (r *Registry) LoadDir(dir string) []error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return []error{fmt.Errorf("read agent dir: %w", err)}
	}

	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(path) // #nosec G304 -- operator-owned agent dir
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", path, err))
			continue
		}
		if err := r.Register(content, path); err != nil {
			r.logger.Warn("agent definition refused", zap.String("path", path), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errs
}

// Finalize checks cross-definition invariants (orchestration role
// references must resolve) and freezes the registry.
func (r *Registry) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for role, def := range r.defs {
		refs := [][]string{
			def.Spec.Orchestration.ReceivesFrom,
			def.Spec.Orchestration.HandsOffTo,
			def.Spec.Orchestration.Reviews,
			def.Spec.Orchestration.ReviewedBy,
		}
		for _, list := range refs {
			for _, ref := range list {
				if ref == "user" {
					continue
				}
				if _, ok := r.defs[ref]; !ok {
					return fmt.Errorf("agent %q references unknown role %q", role, ref)
				}
			}
		}
	}
	r.finalized = true
	return nil
}

// Get returns the definition for a role.
func (r *Registry) Get(role string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[role]
	if !ok {
		return nil, fmt.Errorf("role %q: %w", role, ErrAgentNotFound)
	}
	return def, nil
}

// Roles returns registered role ids, sorted.
func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := make([]string, 0, len(r.defs))
	for role := range r.defs {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

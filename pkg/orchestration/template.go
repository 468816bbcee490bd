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

// Package orchestration drives a task's pipeline: templates describe the
// stage sequence, the stage executor loops single steps until a stage
// terminates, and the controller sequences stages, reviews, iteration
// decisions and handoffs. Parallelism exists across tasks only.
package orchestration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/agentforge/internal/log"
	"github.com/teradata-labs/agentforge/pkg/agent"
	"github.com/teradata-labs/agentforge/pkg/contract"
	"github.com/teradata-labs/agentforge/pkg/validation"
)

// ErrTemplateNotFound is returned when no template has the requested name.
var ErrTemplateNotFound = errors.New("template not found")

// Reviewer modes.
const (
	ModeBlocking = "blocking"
	ModeAdvisory = "advisory"
)

// Reviewer names an agent role that reviews a stage's output.
type Reviewer struct {
	Role string `yaml:"role"`

	// Mode is blocking or advisory; empty means blocking.
	Mode string `yaml:"mode,omitempty"`
}

// EffectiveMode resolves the default.
func (r Reviewer) EffectiveMode() string {
	if r.Mode == "" {
		return ModeBlocking
	}
	return r.Mode
}

// Stage is one descriptor in a pipeline template.
type Stage struct {
	Name  string `yaml:"name"`
	Agent string `yaml:"agent"`

	Reviewers []Reviewer `yaml:"reviewers,omitempty"`

	// InputContract names the upstream artifact this stage consumes.
	InputContract  string `yaml:"input_contract,omitempty"`
	OutputContract string `yaml:"output_contract"`

	EntryPoint bool `yaml:"entry_point,omitempty"`
	ExitPoint  bool `yaml:"exit_point,omitempty"`
	Iterable   bool `yaml:"iterable,omitempty"`

	// SkipIf is a predicate over task state: "external:<contract>" skips
	// when an admitted external covers the contract, "goal:<goal_type>"
	// skips for that goal.
	SkipIf string `yaml:"skip_if,omitempty"`

	// AllowWarnings relaxes the phase-exit predicate for this stage.
	AllowWarnings bool `yaml:"allow_warnings,omitempty"`

	// RequiredLayers restricts phase exit to the named verification
	// layers; empty means all present layers must pass.
	RequiredLayers []string `yaml:"required_layers,omitempty"`
}

// TemplateMetadata is the template document header.
type TemplateMetadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// TemplateSpec is the template body.
type TemplateSpec struct {
	Stages []Stage `yaml:"stages"`

	// AcceptsExternal maps contract id to the stage whose output an
	// admitted external artifact replaces.
	AcceptsExternal map[string]string `yaml:"accepts_external,omitempty"`
}

// Template is a named ordered list of stage descriptors.
type Template struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   TemplateMetadata `yaml:"metadata"`
	Spec       TemplateSpec     `yaml:"spec"`
}

// Name returns the template id.
func (t *Template) Name() string { return t.Metadata.Name }

// Stage returns the named stage descriptor.
func (t *Template) Stage(name string) (*Stage, bool) {
	for i := range t.Spec.Stages {
		if t.Spec.Stages[i].Name == name {
			return &t.Spec.Stages[i], true
		}
	}
	return nil, false
}

// Plan resolves the executed stage window for the given entry and exit
// choices. Empty entry/exit mean the template's defaults: the first stage
// and the last exit_point (or last stage).
func (t *Template) Plan(entry, exit string) ([]string, error) {
	stages := t.Spec.Stages
	if len(stages) == 0 {
		return nil, fmt.Errorf("template %s has no stages", t.Name())
	}

	start := 0
	if entry != "" {
		idx := -1
		for i, st := range stages {
			if st.Name == entry {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("entry stage %q not in template %s", entry, t.Name())
		}
		if idx > 0 && !stages[idx].EntryPoint {
			return nil, fmt.Errorf("stage %q is not an entry point", entry)
		}
		start = idx
	}

	end := len(stages) - 1
	if exit != "" {
		idx := -1
		for i, st := range stages {
			if st.Name == exit {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("exit stage %q not in template %s", exit, t.Name())
		}
		if idx < len(stages)-1 && !stages[idx].ExitPoint {
			return nil, fmt.Errorf("stage %q is not an exit point", exit)
		}
		end = idx
	}
	if end < start {
		return nil, fmt.Errorf("exit stage %q precedes entry stage %q", exit, entry)
	}

	var names []string
	for _, st := range stages[start : end+1] {
		names = append(names, st.Name)
	}
	return names, nil
}

// TemplateRegistry holds validated templates by name.
type TemplateRegistry struct {
	templates map[string]*Template
	agents    *agent.Registry
	contracts *contract.Registry
	logger    *zap.Logger
}

// NewTemplateRegistry creates a registry. Agents and contracts back the
// cross-reference checks at registration time.
func NewTemplateRegistry(agents *agent.Registry, contracts *contract.Registry) *TemplateRegistry {
	return &TemplateRegistry{
		templates: make(map[string]*Template),
		agents:    agents,
		contracts: contracts,
		logger:    log.Logger(),
	}
}

// Register validates and adds one template document. Source names the
// origin for error messages.
func (r *TemplateRegistry) Register(content []byte, source string) error {
	vr := validation.ValidateContent(string(content), source)
	if vr.Kind != validation.KindTemplate {
		return fmt.Errorf("%s: not a Template document (kind %q)", source, vr.Kind)
	}
	if !vr.Valid {
		return fmt.Errorf("%s: %s", source, vr.Format())
	}

	var tmpl Template
	if err := yaml.Unmarshal(content, &tmpl); err != nil {
		return fmt.Errorf("%s: decode template: %w", source, err)
	}
	if tmpl.Metadata.Name == "" {
		return fmt.Errorf("%s: template has no metadata.name", source)
	}
	if _, dup := r.templates[tmpl.Metadata.Name]; dup {
		return fmt.Errorf("%s: duplicate template %q", source, tmpl.Metadata.Name)
	}

	if err := r.check(&tmpl); err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}

	r.templates[tmpl.Metadata.Name] = &tmpl
	r.logger.Debug("template registered",
		zap.String("template", tmpl.Metadata.Name),
		zap.Int("stages", len(tmpl.Spec.Stages)))
	return nil
}

// check cross-references stage agents, contracts and external mappings.
func (r *TemplateRegistry) check(tmpl *Template) error {
	for _, st := range tmpl.Spec.Stages {
		if r.agents != nil {
			if _, err := r.agents.Get(st.Agent); err != nil {
				return fmt.Errorf("stage %s: agent %q: %w", st.Name, st.Agent, err)
			}
			for _, rev := range st.Reviewers {
				if _, err := r.agents.Get(rev.Role); err != nil {
					return fmt.Errorf("stage %s: reviewer %q: %w", st.Name, rev.Role, err)
				}
			}
		}
		if r.contracts != nil {
			if !r.contracts.Has(st.OutputContract) {
				return fmt.Errorf("stage %s: output contract %q not registered", st.Name, st.OutputContract)
			}
			if st.InputContract != "" && !r.contracts.Has(st.InputContract) {
				return fmt.Errorf("stage %s: input contract %q not registered", st.Name, st.InputContract)
			}
		}
		if st.SkipIf != "" {
			if _, _, err := parseSkipIf(st.SkipIf); err != nil {
				return fmt.Errorf("stage %s: %w", st.Name, err)
			}
		}
	}
	for contractID, stageName := range tmpl.Spec.AcceptsExternal {
		if r.contracts != nil && !r.contracts.Has(contractID) {
			return fmt.Errorf("accepts_external: contract %q not registered", contractID)
		}
		if _, ok := tmpl.Stage(stageName); !ok {
			return fmt.Errorf("accepts_external: stage %q not in template", stageName)
		}
	}
	return nil
}

// LoadDir registers every .yaml in dir, continuing past broken files.
// A missing dir is fine. The returned slice holds one error per refused
// file.
func (r *TemplateRegistry) LoadDir(dir string) []error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return []error{fmt.Errorf("read template dir: %w", err)}
	}

	var failures []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(path) // #nosec G304 -- operator-configured dir
		if err != nil {
			failures = append(failures, err)
			continue
		}
		if err := r.Register(content, path); err != nil {
			r.logger.Warn("template refused", zap.String("source", path), zap.Error(err))
			failures = append(failures, err)
		}
	}
	return failures
}

// Get returns the named template.
func (r *TemplateRegistry) Get(name string) (*Template, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("template %q: %w", name, ErrTemplateNotFound)
	}
	return tmpl, nil
}

// Names lists registered templates, sorted.
func (r *TemplateRegistry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// parseSkipIf splits a skip predicate into kind and argument.
func parseSkipIf(expr string) (kind, arg string, err error) {
	parts := strings.SplitN(expr, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("skip_if %q: want external:<contract> or goal:<goal_type>", expr)
	}
	switch parts[0] {
	case "external", "goal":
		return parts[0], parts[1], nil
	}
	return "", "", fmt.Errorf("skip_if %q: unknown predicate %q", expr, parts[0])
}

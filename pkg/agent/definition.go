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

// Package agent loads agent definitions, builds their system prompts and
// hands out per-stage instances bound to a restricted tool bridge.
package agent

import (
	"fmt"

	"github.com/teradata-labs/agentforge/pkg/bridge"
)

// Metadata identifies a definition.
type Metadata struct {
	// Name is the role id (e.g. "designer", "implementer")
	Name string `yaml:"name"`

	// DisplayName is the human-facing name
	DisplayName string `yaml:"displayName,omitempty"`

	// Description is a one-line summary
	Description string `yaml:"description,omitempty"`
}

// Tools declares what an agent may touch.
type Tools struct {
	Allowed   []string `yaml:"allowed"`
	Forbidden []string `yaml:"forbidden,omitempty"`

	// PathConstraints maps tool name to doublestar globs; "!" negates.
	PathConstraints map[string][]string `yaml:"path_constraints,omitempty"`
}

// Output declares what the agent must produce.
type Output struct {
	// Contract is the registered contract the final artifact must pass
	Contract string `yaml:"contract"`

	// MustVerify lists verification layers that must pass before complete
	MustVerify []string `yaml:"must_verify,omitempty"`
}

// Capabilities groups tools and output.
type Capabilities struct {
	Tools  Tools  `yaml:"tools"`
	Output Output `yaml:"output"`
}

// Orchestration is the role graph metadata.
type Orchestration struct {
	ReceivesFrom []string `yaml:"receives_from,omitempty"`
	HandsOffTo   []string `yaml:"hands_off_to,omitempty"`
	Reviews      []string `yaml:"reviews,omitempty"`
	ReviewedBy   []string `yaml:"reviewed_by,omitempty"`
}

// Spec is the body of an agent definition.
type Spec struct {
	// Identity is the role prose that opens the system prompt
	Identity string `yaml:"identity"`

	// Expertise lists competence areas
	Expertise []string `yaml:"expertise,omitempty"`

	// ThinkingStyle shapes how the agent reasons
	ThinkingStyle string `yaml:"thinking_style,omitempty"`

	// Constraints are hard behavioral rules
	Constraints []string `yaml:"constraints,omitempty"`

	Capabilities  Capabilities  `yaml:"capabilities"`
	Orchestration Orchestration `yaml:"orchestration,omitempty"`
}

// Definition is one agent definition document.
type Definition struct {
	APIVersion string   `yaml:"apiVersion"`
	Kind       string   `yaml:"kind"`
	Metadata   Metadata `yaml:"metadata"`
	Spec       Spec     `yaml:"spec"`
}

// Role returns the role id.
func (d *Definition) Role() string { return d.Metadata.Name }

// Policy builds the tool-bridge policy from the definition.
func (d *Definition) Policy() *bridge.Policy {
	return &bridge.Policy{
		Allowed:         append([]string(nil), d.Spec.Capabilities.Tools.Allowed...),
		Forbidden:       append([]string(nil), d.Spec.Capabilities.Tools.Forbidden...),
		PathConstraints: d.Spec.Capabilities.Tools.PathConstraints,
	}
}

// Instance binds a definition to one (task, stage, iteration) and to the
// tool bridge enforcing its restrictions. Instances are created per stage
// execution and discarded when the stage ends.
type Instance struct {
	Definition *Definition
	TaskID     string
	Stage      string
	Iteration  int
	Bridge     *bridge.Bridge
}

// NewInstance builds a bound instance over a shared tool registry.
func NewInstance(def *Definition, taskID, stage string, iteration int, tools *bridge.Registry, root string) *Instance {
	return &Instance{
		Definition: def,
		TaskID:     taskID,
		Stage:      stage,
		Iteration:  iteration,
		Bridge:     bridge.New(tools, def.Policy(), root, bridge.DefaultToolTimeout),
	}
}

// String identifies the instance in logs.
func (i *Instance) String() string {
	return fmt.Sprintf("%s@%s/%s#%d", i.Definition.Role(), i.TaskID, i.Stage, i.Iteration)
}

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

// Package conformance is the post-edit verification gate: a layered check
// bundle (syntax, type check, declarative conformance rules, affected tests)
// over the files an agent just modified. The gate never blocks — it returns
// verdicts; the executor decides what to do with them.
package conformance

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/agentforge/pkg/types"
)

// Checker invokes an external verifier as a subprocess. An empty command
// means the layer has no external checker; syntax and type layers then pass
// trivially and rule layers evaluate in-process.
type Checker struct {
	// Command is the argv template; "{file}" is replaced per file
	Command []string `yaml:"command,omitempty"`

	// TimeoutSeconds bounds one invocation (default 60)
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// Rule is one declarative conformance rule, evaluated in-process against
// file content.
type Rule struct {
	// ID names the rule (e.g. "style/naming", "security/secrets")
	ID string `yaml:"id"`

	// Pattern is a regex matched line by line; a match is a violation
	Pattern string `yaml:"pattern"`

	// FileGlob restricts the rule to matching files (default all)
	FileGlob string `yaml:"file_glob,omitempty"`

	// Message describes the violation
	Message string `yaml:"message"`

	// Severity is error or warning (default error)
	Severity string `yaml:"severity,omitempty"`

	compiled *regexp.Regexp
}

// TestMapping links source files to the command that runs their tests.
type TestMapping struct {
	SourceGlob string   `yaml:"source_glob"`
	Command    []string `yaml:"command"`

	// TimeoutSeconds bounds the test run (default 300)
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// RuleSet is the full gate configuration, loaded from YAML. Rule categories
// map onto verification layers: style stays its own layer, architecture and
// pattern rules share the architecture layer, security stays its own layer.
type RuleSet struct {
	Version  int                `yaml:"version"`
	Checkers map[string]Checker `yaml:"checkers,omitempty"`

	Rules struct {
		Style        []Rule `yaml:"style,omitempty"`
		Architecture []Rule `yaml:"architecture,omitempty"`
		Pattern      []Rule `yaml:"pattern,omitempty"`
		Security     []Rule `yaml:"security,omitempty"`
	} `yaml:"rules,omitempty"`

	TestMapping []TestMapping `yaml:"test_mapping,omitempty"`

	// Baseline is an opaque path handed through to external checkers.
	Baseline string `yaml:"baseline,omitempty"`
}

// LoadRuleSet reads and compiles a rule-set file. A missing path yields an
// empty rule set (everything passes), so the gate works without
// configuration.
func LoadRuleSet(path string) (*RuleSet, error) {
	if path == "" {
		return &RuleSet{Version: 1}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RuleSet{Version: 1}, nil
		}
		return nil, fmt.Errorf("read rule set: %w", err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet decodes and compiles rule-set YAML.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("decode rule set: %w", err)
	}
	for _, rules := range [][]Rule{rs.Rules.Style, rs.Rules.Architecture, rs.Rules.Pattern, rs.Rules.Security} {
		for i := range rules {
			re, err := regexp.Compile(rules[i].Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %s: compile pattern: %w", rules[i].ID, err)
			}
			rules[i].compiled = re
			if rules[i].Severity == "" {
				rules[i].Severity = "error"
			}
		}
	}
	return &rs, nil
}

// layerRules returns the in-process rules for a verification layer.
func (rs *RuleSet) layerRules(layer string) []Rule {
	switch layer {
	case types.LayerStyle:
		return rs.Rules.Style
	case types.LayerArchitecture:
		return append(append([]Rule{}, rs.Rules.Architecture...), rs.Rules.Pattern...)
	case types.LayerSecurity:
		return rs.Rules.Security
	}
	return nil
}

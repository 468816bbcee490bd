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

// Package contract validates artifacts against registered contracts. A
// contract is a YAML document with a JSON-Schema half and a semantic-rule
// half; validation of both is a pure function of the artifact bytes. No
// artifact crosses a stage boundary, enters the pipeline from outside, or
// exits to the user without passing its contract.
package contract

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is one semantic validation rule. Type selects the behavior; the
// remaining fields are type-specific.
type Rule struct {
	// Type is one of required_fields, min_length, max_length, pattern,
	// forbidden_patterns, allowed_values
	Type string `yaml:"type"`

	// Field is a dotted path into the artifact (e.g. "report.files")
	Field string `yaml:"field,omitempty"`

	// Fields lists paths for required_fields
	Fields []string `yaml:"fields,omitempty"`

	// Value is the numeric bound for min_length / max_length
	Value int `yaml:"value,omitempty"`

	// Pattern is the regex for pattern rules
	Pattern string `yaml:"pattern,omitempty"`

	// Patterns lists regexes for forbidden_patterns (matched against the
	// raw artifact text)
	Patterns []string `yaml:"patterns,omitempty"`

	// Values lists permitted values for allowed_values
	Values []string `yaml:"values,omitempty"`

	// Message overrides the default failure message
	Message string `yaml:"message,omitempty"`
}

// Metadata is the shared definition-file header.
type Metadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// Spec is the contract body: schema plus semantic rules.
type Spec struct {
	Schema     map[string]interface{} `yaml:"schema"`
	Validation []Rule                 `yaml:"validation,omitempty"`
}

// Contract is one registered artifact contract.
type Contract struct {
	APIVersion string   `yaml:"apiVersion"`
	Kind       string   `yaml:"kind"`
	Metadata   Metadata `yaml:"metadata"`
	Spec       Spec     `yaml:"spec"`
}

// Name returns the contract id.
func (c *Contract) Name() string { return c.Metadata.Name }

// Result is the outcome of validating one artifact.
type Result struct {
	Passed       bool     `yaml:"passed" json:"passed"`
	Contract     string   `yaml:"contract" json:"contract"`
	Errors       []string `yaml:"errors,omitempty" json:"errors,omitempty"`
	ArtifactHash string   `yaml:"artifact_hash" json:"artifact_hash"`
}

// ValidationError is the typed error for refusal paths: an external artifact
// or definition that failed its contract. Matched with errors.As.
type ValidationError struct {
	Contract string
	Errors   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("contract %s: %d validation error(s): %s",
		e.Contract, len(e.Errors), strings.Join(e.Errors, "; "))
}

// fieldAt walks a dotted path through nested mappings. Returns nil, false
// when any segment is missing.
func fieldAt(doc interface{}, path string) (interface{}, bool) {
	current := doc
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// applyRule evaluates one semantic rule against the decoded artifact and its
// raw text. Returns "" when the rule passes.
func applyRule(rule Rule, doc interface{}, raw string) []string {
	var errs []string
	fail := func(format string, args ...interface{}) {
		if rule.Message != "" {
			errs = append(errs, rule.Message)
			return
		}
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch rule.Type {
	case "required_fields":
		for _, f := range rule.Fields {
			if _, ok := fieldAt(doc, f); !ok {
				fail("required field %q is missing", f)
			}
		}

	case "min_length":
		v, ok := fieldAt(doc, rule.Field)
		if !ok {
			fail("field %q is missing", rule.Field)
			break
		}
		if length, ok := lengthOf(v); ok && length < rule.Value {
			fail("field %q has length %d, minimum is %d", rule.Field, length, rule.Value)
		}

	case "max_length":
		if v, ok := fieldAt(doc, rule.Field); ok {
			if length, ok := lengthOf(v); ok && length > rule.Value {
				fail("field %q has length %d, maximum is %d", rule.Field, length, rule.Value)
			}
		}

	case "pattern":
		v, ok := fieldAt(doc, rule.Field)
		if !ok {
			break
		}
		s, ok := v.(string)
		if !ok {
			fail("field %q is not a string", rule.Field)
			break
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			fail("rule pattern %q does not compile: %v", rule.Pattern, err)
			break
		}
		if !re.MatchString(s) {
			fail("field %q does not match pattern %q", rule.Field, rule.Pattern)
		}

	case "forbidden_patterns":
		for _, p := range rule.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				fail("rule pattern %q does not compile: %v", p, err)
				continue
			}
			if re.MatchString(raw) {
				fail("artifact matches forbidden pattern %q", p)
			}
		}

	case "allowed_values":
		v, ok := fieldAt(doc, rule.Field)
		if !ok {
			break
		}
		s := fmt.Sprintf("%v", v)
		allowed := false
		for _, val := range rule.Values {
			if s == val {
				allowed = true
				break
			}
		}
		if !allowed {
			fail("field %q has value %q, allowed: %s", rule.Field, s, strings.Join(rule.Values, ", "))
		}

	default:
		fail("unknown rule type %q", rule.Type)
	}

	return errs
}

func lengthOf(v interface{}) (int, bool) {
	switch t := v.(type) {
	case string:
		return len(t), true
	case []interface{}:
		return len(t), true
	case map[string]interface{}:
		return len(t), true
	}
	return 0, false
}

// jsonify converts a yaml.v3-decoded value into JSON-compatible form for
// gojsonschema: map keys become strings at every level.
func jsonify(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = jsonify(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = jsonify(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = jsonify(val)
		}
		return out
	default:
		return v
	}
}

// decodeArtifact parses artifact YAML into a JSON-compatible document.
func decodeArtifact(content []byte) (interface{}, error) {
	var doc interface{}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("artifact is not valid YAML: %w", err)
	}
	return jsonify(doc), nil
}

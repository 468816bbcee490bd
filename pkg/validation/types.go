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

// Package validation implements three-level validation of definition YAML
// (agents, contracts, pipeline templates): syntax, structure, semantics.
// Cross-registry checks (referenced contract exists, referenced role exists)
// belong to the registries that hold both sides, not to this package.
package validation

import (
	"fmt"
	"strings"
)

// ValidationLevel indicates the depth at which an issue was found.
type ValidationLevel string

const (
	// LevelSyntax indicates a YAML syntax error (parsing failure)
	LevelSyntax ValidationLevel = "SYNTAX"
	// LevelStructure indicates a schema/structure violation
	LevelStructure ValidationLevel = "STRUCTURE"
	// LevelSemantic indicates a logical consistency issue (conflicting sets, invalid values)
	LevelSemantic ValidationLevel = "SEMANTIC"
)

// ValidationError represents a single validation issue.
type ValidationError struct {
	Level    ValidationLevel `json:"level"`
	Line     int             `json:"line,omitempty"`     // Line number where error occurred (0 if unknown)
	Field    string          `json:"field,omitempty"`    // Field path (e.g., "capabilities.tools", "metadata.name")
	Message  string          `json:"message"`            // Human-readable error message
	Fix      string          `json:"fix,omitempty"`      // Suggested fix
	Got      string          `json:"got,omitempty"`      // What was provided
	Expected string          `json:"expected,omitempty"` // What was expected
}

// ValidationWarning represents a non-blocking issue that should be reviewed.
type ValidationWarning struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Fix     string `json:"fix,omitempty"`
}

// ValidationResult contains the complete validation result for a YAML file.
type ValidationResult struct {
	Valid    bool                `json:"valid"`
	Errors   []ValidationError   `json:"errors,omitempty"`
	Warnings []ValidationWarning `json:"warnings,omitempty"`
	Kind     string              `json:"kind,omitempty"` // "Agent", "Contract" or "Template"
	FilePath string              `json:"file_path,omitempty"`
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// ErrorCount returns the total number of errors.
func (r *ValidationResult) ErrorCount() int {
	return len(r.Errors)
}

// Format renders the result grouped by level, errors first.
func (r *ValidationResult) Format() string {
	if r.Valid && !r.HasWarnings() {
		return fmt.Sprintf("%s is valid\n", r.FilePath)
	}

	var b strings.Builder
	if r.FilePath != "" {
		fmt.Fprintf(&b, "%s:\n", r.FilePath)
	}

	byLevel := map[ValidationLevel][]ValidationError{}
	for _, e := range r.Errors {
		byLevel[e.Level] = append(byLevel[e.Level], e)
	}

	for _, level := range []ValidationLevel{LevelSyntax, LevelStructure, LevelSemantic} {
		errs, ok := byLevel[level]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "[%s] %d issue(s)\n", level, len(errs))
		for _, e := range errs {
			b.WriteString(formatError(e))
		}
	}

	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "  warning: %s", w.Message)
		if w.Field != "" {
			fmt.Fprintf(&b, " (%s)", w.Field)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func formatError(e ValidationError) string {
	var b strings.Builder
	b.WriteString("  - ")
	if e.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", e.Line)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, "%s: ", e.Field)
	}
	b.WriteString(e.Message)
	if e.Got != "" {
		fmt.Fprintf(&b, " (got: %s", e.Got)
		if e.Expected != "" {
			fmt.Fprintf(&b, ", expected: %s", e.Expected)
		}
		b.WriteString(")")
	} else if e.Expected != "" {
		fmt.Fprintf(&b, " (expected: %s)", e.Expected)
	}
	if e.Fix != "" {
		fmt.Fprintf(&b, "\n    fix: %s", e.Fix)
	}
	b.WriteString("\n")
	return b.String()
}

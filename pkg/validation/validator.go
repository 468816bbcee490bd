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
package validation

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// APIVersion is the accepted apiVersion for all definition files.
const APIVersion = "agentforge/v1"

// Definition kinds.
const (
	KindAgent    = "Agent"
	KindContract = "Contract"
	KindTemplate = "Template"
)

// ValidateFile validates a definition YAML file at the given path.
// The kind is detected from the 'kind' field in the content.
func ValidateFile(filePath string) ValidationResult {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return ValidationResult{
			Valid:    false,
			FilePath: filePath,
			Errors: []ValidationError{{
				Level:   LevelSyntax,
				Message: fmt.Sprintf("Failed to read file: %v", err),
			}},
		}
	}
	return ValidateContent(string(content), filePath)
}

// ValidateContent validates definition YAML content and returns detailed
// results. filePath is optional (for better error messages).
func ValidateContent(content, filePath string) ValidationResult {
	result := ValidationResult{
		Valid:    true,
		FilePath: filePath,
	}

	// Level 1: syntax. A parse failure makes deeper levels meaningless.
	syntaxErrors := validateSyntax(content)
	if len(syntaxErrors) > 0 {
		result.Errors = append(result.Errors, syntaxErrors...)
		result.Valid = false
		return result
	}

	kind := DetectKind(content)
	result.Kind = kind

	// Level 2: structure.
	result.Errors = append(result.Errors, validateStructure(content, kind)...)

	// Level 3: semantics.
	semanticErrors, semanticWarnings := validateSemantics(content, kind)
	result.Errors = append(result.Errors, semanticErrors...)
	result.Warnings = append(result.Warnings, semanticWarnings...)

	if len(result.Errors) > 0 {
		result.Valid = false
	}

	return result
}

// DetectKind reads the 'kind' field from YAML content without fully
// decoding it. Returns "" when absent.
func DetectKind(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "kind:") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "kind:"))
		}
	}
	return ""
}

func validateSyntax(content string) []ValidationError {
	var data map[string]interface{}
	if err := yaml.Unmarshal([]byte(content), &data); err != nil {
		return []ValidationError{{
			Level:   LevelSyntax,
			Line:    extractLineNumber(err.Error()),
			Message: fmt.Sprintf("YAML syntax error: %v", err),
			Fix:     "Check for missing colons, incorrect indentation, or invalid characters",
		}}
	}
	return nil
}

func validateStructure(content, kind string) []ValidationError {
	var errors []ValidationError

	var data map[string]interface{}
	if err := yaml.Unmarshal([]byte(content), &data); err != nil {
		return errors // syntax error already caught
	}

	errors = append(errors, checkEnvelope(data, kind)...)

	switch kind {
	case KindAgent:
		errors = append(errors, validateAgentStructure(data)...)
	case KindContract:
		errors = append(errors, validateContractStructure(data)...)
	case KindTemplate:
		errors = append(errors, validateTemplateStructure(data)...)
	case "":
		errors = append(errors, ValidationError{
			Level:    LevelStructure,
			Field:    "kind",
			Message:  "Unable to determine file kind",
			Expected: "kind: Agent, Contract or Template",
			Fix:      "Add a 'kind' field near the top of the file",
		})
	default:
		errors = append(errors, ValidationError{
			Level:    LevelStructure,
			Field:    "kind",
			Message:  "Unknown kind",
			Got:      kind,
			Expected: "Agent, Contract or Template",
		})
	}

	return errors
}

// checkEnvelope validates the apiVersion/kind/metadata wrapper shared by
// every definition file.
func checkEnvelope(data map[string]interface{}, kind string) []ValidationError {
	var errors []ValidationError

	if apiVersion, ok := data["apiVersion"].(string); !ok || apiVersion == "" {
		errors = append(errors, ValidationError{
			Level:    LevelStructure,
			Field:    "apiVersion",
			Message:  "Missing required field",
			Expected: "apiVersion: " + APIVersion,
			Fix:      "Add 'apiVersion: " + APIVersion + "' at the top of the file",
		})
	} else if apiVersion != APIVersion {
		errors = append(errors, ValidationError{
			Level:    LevelStructure,
			Field:    "apiVersion",
			Message:  "Invalid apiVersion",
			Got:      apiVersion,
			Expected: APIVersion,
			Fix:      "Change apiVersion to '" + APIVersion + "'",
		})
	}

	metadata, hasMetadata := data["metadata"].(map[string]interface{})
	if !hasMetadata {
		errors = append(errors, ValidationError{
			Level:    LevelStructure,
			Field:    "metadata",
			Message:  "Missing required metadata section",
			Expected: "metadata with at least 'name'",
			Fix:      "Add a metadata section with a 'name' field",
		})
	} else if name, ok := metadata["name"].(string); !ok || name == "" {
		errors = append(errors, ValidationError{
			Level:    LevelStructure,
			Field:    "metadata.name",
			Message:  "Missing required field",
			Expected: "non-empty string",
			Fix:      "Add 'name: <identifier>' under metadata",
		})
	}

	if _, hasSpec := data["spec"].(map[string]interface{}); !hasSpec {
		errors = append(errors, ValidationError{
			Level:    LevelStructure,
			Field:    "spec",
			Message:  "Missing required spec section",
			Expected: "spec with the " + strings.ToLower(kind) + " body",
			Fix:      "Add a spec section",
		})
	}

	return errors
}

func validateAgentStructure(data map[string]interface{}) []ValidationError {
	var errors []ValidationError

	spec, ok := data["spec"].(map[string]interface{})
	if !ok {
		return errors // envelope check already reported
	}

	if identity, ok := spec["identity"].(string); !ok || identity == "" {
		errors = append(errors, ValidationError{
			Level:    LevelStructure,
			Field:    "spec.identity",
			Message:  "Missing required field",
			Expected: "identity prose describing the agent's role",
			Fix:      "Add an 'identity' field under spec",
		})
	}

	caps, hasCaps := spec["capabilities"].(map[string]interface{})
	if !hasCaps {
		errors = append(errors, ValidationError{
			Level:    LevelStructure,
			Field:    "spec.capabilities",
			Message:  "Missing required capabilities section",
			Expected: "capabilities with tools.allowed and output.contract",
			Fix:      "Add a capabilities section",
		})
		return errors
	}

	tools, hasTools := caps["tools"].(map[string]interface{})
	if !hasTools {
		errors = append(errors, ValidationError{
			Level:    LevelStructure,
			Field:    "spec.capabilities.tools",
			Message:  "Missing tools section",
			Expected: "tools with 'allowed' list",
			Fix:      "Add 'tools:' with an 'allowed' list under capabilities",
		})
	} else {
		// Common mistake: a flat list instead of allowed/forbidden sets.
		if allowed, hasAllowed := tools["allowed"]; hasAllowed {
			if _, isList := allowed.([]interface{}); !isList {
				errors = append(errors, ValidationError{
					Level:    LevelStructure,
					Field:    "spec.capabilities.tools.allowed",
					Message:  "Invalid allowed tools format",
					Got:      fmt.Sprintf("%T", allowed),
					Expected: "flat array of tool names",
					Fix:      "Use 'allowed: [read_file, edit_file, ...]'",
				})
			}
		} else {
			errors = append(errors, ValidationError{
				Level:    LevelStructure,
				Field:    "spec.capabilities.tools.allowed",
				Message:  "Missing required field",
				Expected: "array of tool names",
				Fix:      "Add an 'allowed' list of tool names",
			})
		}
	}

	output, hasOutput := caps["output"].(map[string]interface{})
	if !hasOutput {
		errors = append(errors, ValidationError{
			Level:    LevelStructure,
			Field:    "spec.capabilities.output",
			Message:  "Missing output section",
			Expected: "output with 'contract'",
			Fix:      "Add 'output:' with a 'contract' field under capabilities",
		})
	} else if contract, ok := output["contract"].(string); !ok || contract == "" {
		errors = append(errors, ValidationError{
			Level:    LevelStructure,
			Field:    "spec.capabilities.output.contract",
			Message:  "Missing required field",
			Expected: "registered contract name",
			Fix:      "Add 'contract: <contract-name>' under output",
		})
	}

	return errors
}

func validateContractStructure(data map[string]interface{}) []ValidationError {
	var errors []ValidationError

	spec, ok := data["spec"].(map[string]interface{})
	if !ok {
		return errors
	}

	if _, hasSchema := spec["schema"].(map[string]interface{}); !hasSchema {
		errors = append(errors, ValidationError{
			Level:    LevelStructure,
			Field:    "spec.schema",
			Message:  "Missing required schema section",
			Expected: "JSON-Schema shape for the artifact",
			Fix:      "Add a 'schema' section describing the artifact shape",
		})
	}

	if rules, hasRules := spec["validation"]; hasRules {
		if _, isList := rules.([]interface{}); !isList {
			errors = append(errors, ValidationError{
				Level:    LevelStructure,
				Field:    "spec.validation",
				Message:  "Invalid validation rules format",
				Got:      fmt.Sprintf("%T", rules),
				Expected: "array of rule objects",
				Fix:      "Use 'validation:' with a list of rules",
			})
		}
	}

	return errors
}

func validateTemplateStructure(data map[string]interface{}) []ValidationError {
	var errors []ValidationError

	spec, ok := data["spec"].(map[string]interface{})
	if !ok {
		return errors
	}

	stages, hasStages := spec["stages"].([]interface{})
	if !hasStages {
		errors = append(errors, ValidationError{
			Level:    LevelStructure,
			Field:    "spec.stages",
			Message:  "Missing required stages list",
			Expected: "ordered array of stage descriptors",
			Fix:      "Add a 'stages' list under spec",
		})
		return errors
	}
	if len(stages) == 0 {
		errors = append(errors, ValidationError{
			Level:    LevelStructure,
			Field:    "spec.stages",
			Message:  "Template has no stages",
			Expected: "at least one stage descriptor",
		})
		return errors
	}

	for i, raw := range stages {
		stage, ok := raw.(map[string]interface{})
		if !ok {
			errors = append(errors, ValidationError{
				Level:    LevelStructure,
				Field:    fmt.Sprintf("spec.stages[%d]", i),
				Message:  "Stage descriptor must be a mapping",
				Got:      fmt.Sprintf("%T", raw),
				Expected: "mapping with name, agent, output_contract",
			})
			continue
		}
		for _, field := range []string{"name", "agent", "output_contract"} {
			if v, ok := stage[field].(string); !ok || v == "" {
				errors = append(errors, ValidationError{
					Level:    LevelStructure,
					Field:    fmt.Sprintf("spec.stages[%d].%s", i, field),
					Message:  "Missing required field",
					Expected: "non-empty string",
				})
			}
		}
	}

	return errors
}

func validateSemantics(content, kind string) ([]ValidationError, []ValidationWarning) {
	var errors []ValidationError
	var warnings []ValidationWarning

	var data map[string]interface{}
	if err := yaml.Unmarshal([]byte(content), &data); err != nil {
		return errors, warnings
	}
	spec, ok := data["spec"].(map[string]interface{})
	if !ok {
		return errors, warnings
	}

	switch kind {
	case KindAgent:
		errors, warnings = agentSemantics(spec)
	case KindTemplate:
		errors, warnings = templateSemantics(spec)
	}

	return errors, warnings
}

func agentSemantics(spec map[string]interface{}) ([]ValidationError, []ValidationWarning) {
	var errors []ValidationError
	var warnings []ValidationWarning

	caps, _ := spec["capabilities"].(map[string]interface{})
	tools, _ := caps["tools"].(map[string]interface{})

	allowed := stringSet(tools, "allowed")
	forbidden := stringSet(tools, "forbidden")

	for name := range allowed {
		if _, clash := forbidden[name]; clash {
			errors = append(errors, ValidationError{
				Level:   LevelSemantic,
				Field:   "spec.capabilities.tools",
				Message: fmt.Sprintf("Tool %q appears in both allowed and forbidden sets", name),
				Fix:     "Remove the tool from one of the two sets",
			})
		}
	}

	if len(allowed) > 0 {
		if _, hasComplete := allowed["complete"]; !hasComplete {
			warnings = append(warnings, ValidationWarning{
				Field:   "spec.capabilities.tools.allowed",
				Message: "Agent has no 'complete' action and cannot finish a stage on its own",
				Fix:     "Add 'complete' to the allowed tools",
			})
		}
	}

	// Path constraints must reference tools the agent can actually use.
	if constraints, ok := tools["path_constraints"].(map[string]interface{}); ok {
		for tool := range constraints {
			if _, ok := allowed[tool]; !ok {
				warnings = append(warnings, ValidationWarning{
					Field:   "spec.capabilities.tools.path_constraints",
					Message: fmt.Sprintf("Path constraint for %q, which is not in the allowed set", tool),
					Fix:     "Remove the constraint or allow the tool",
				})
			}
		}
	}

	return errors, warnings
}

func templateSemantics(spec map[string]interface{}) ([]ValidationError, []ValidationWarning) {
	var errors []ValidationError
	var warnings []ValidationWarning

	stages, _ := spec["stages"].([]interface{})
	seen := map[string]bool{}
	hasExit := false

	for i, raw := range stages {
		stage, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := stage["name"].(string)
		if name != "" {
			if seen[name] {
				errors = append(errors, ValidationError{
					Level:   LevelSemantic,
					Field:   fmt.Sprintf("spec.stages[%d].name", i),
					Message: fmt.Sprintf("Duplicate stage name %q", name),
					Fix:     "Stage names must be unique within a template",
				})
			}
			seen[name] = true
		}
		if exit, _ := stage["exit_point"].(bool); exit {
			hasExit = true
		}
		if reviewers, ok := stage["reviewers"].([]interface{}); ok {
			for j, rraw := range reviewers {
				reviewer, ok := rraw.(map[string]interface{})
				if !ok {
					continue
				}
				mode, _ := reviewer["mode"].(string)
				if mode != "" && mode != "blocking" && mode != "advisory" {
					errors = append(errors, ValidationError{
						Level:    LevelSemantic,
						Field:    fmt.Sprintf("spec.stages[%d].reviewers[%d].mode", i, j),
						Message:  "Invalid reviewer mode",
						Got:      mode,
						Expected: "blocking or advisory",
					})
				}
			}
		}
	}

	if len(stages) > 0 && !hasExit {
		warnings = append(warnings, ValidationWarning{
			Field:   "spec.stages",
			Message: "No stage is marked exit_point; the last stage will be the implicit exit",
		})
	}

	return errors, warnings
}

func stringSet(m map[string]interface{}, key string) map[string]struct{} {
	set := map[string]struct{}{}
	list, _ := m[key].([]interface{})
	for _, item := range list {
		if s, ok := item.(string); ok {
			set[s] = struct{}{}
		}
	}
	return set
}

var lineNumberRe = regexp.MustCompile(`line (\d+)`)

// extractLineNumber pulls a line number out of a yaml.v3 error message.
// Returns 0 when the message carries none.
func extractLineNumber(errMsg string) int {
	matches := lineNumberRe.FindStringSubmatch(errMsg)
	if len(matches) < 2 {
		return 0
	}
	n, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return n
}

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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validAgent = `apiVersion: agentforge/v1
kind: Agent
metadata:
  name: implementer
spec:
  identity: You implement features against an approved specification.
  capabilities:
    tools:
      allowed: [read_file, edit_file, run_check, complete, escalate, cannot_fix]
      forbidden: [run_tests]
      path_constraints:
        edit_file: ["src/**", "!src/generated/**"]
    output:
      contract: implementation_report
`

const validTemplate = `apiVersion: agentforge/v1
kind: Template
metadata:
  name: full_feature
spec:
  stages:
    - name: spec
      agent: architect
      output_contract: specification
      iterable: true
    - name: green
      agent: implementer
      output_contract: implementation_report
      exit_point: true
      reviewers:
        - role: security_reviewer
          mode: blocking
`

func TestValidateContent_ValidAgent(t *testing.T) {
	result := ValidateContent(validAgent, "implementer.yaml")

	assert.True(t, result.Valid, result.Format())
	assert.Equal(t, KindAgent, result.Kind)
	assert.Empty(t, result.Errors)
}

func TestValidateContent_SyntaxError(t *testing.T) {
	result := ValidateContent("kind: Agent\n  bad_indent: [unclosed", "broken.yaml")

	require.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, LevelSyntax, result.Errors[0].Level)
}

func TestValidateContent_MissingEnvelope(t *testing.T) {
	content := `kind: Agent
spec:
  identity: something
  capabilities:
    tools:
      allowed: [complete]
    output:
      contract: c
`
	result := ValidateContent(content, "")

	require.False(t, result.Valid)
	fields := map[string]bool{}
	for _, e := range result.Errors {
		fields[e.Field] = true
	}
	assert.True(t, fields["apiVersion"])
	assert.True(t, fields["metadata"])
}

func TestValidateContent_WrongAPIVersion(t *testing.T) {
	content := `apiVersion: agentforge/v2
kind: Agent
metadata:
  name: x
spec:
  identity: i
  capabilities:
    tools:
      allowed: [complete]
    output:
      contract: c
`
	result := ValidateContent(content, "")

	require.False(t, result.Valid)
	found := false
	for _, e := range result.Errors {
		if e.Field == "apiVersion" {
			found = true
			assert.Equal(t, "agentforge/v2", e.Got)
			assert.Equal(t, APIVersion, e.Expected)
		}
	}
	assert.True(t, found)
}

func TestValidateContent_AllowedForbiddenOverlap(t *testing.T) {
	content := `apiVersion: agentforge/v1
kind: Agent
metadata:
  name: conflicted
spec:
  identity: i
  capabilities:
    tools:
      allowed: [read_file, edit_file, complete]
      forbidden: [edit_file]
    output:
      contract: c
`
	result := ValidateContent(content, "")

	require.False(t, result.Valid)
	found := false
	for _, e := range result.Errors {
		if e.Level == LevelSemantic {
			found = true
			assert.Contains(t, e.Message, "edit_file")
		}
	}
	assert.True(t, found, "expected a semantic error for the overlap")
}

func TestValidateContent_MissingCompleteWarns(t *testing.T) {
	content := `apiVersion: agentforge/v1
kind: Agent
metadata:
  name: no-complete
spec:
  identity: i
  capabilities:
    tools:
      allowed: [read_file]
    output:
      contract: c
`
	result := ValidateContent(content, "")

	assert.True(t, result.Valid)
	require.True(t, result.HasWarnings())
	assert.Contains(t, result.Warnings[0].Message, "complete")
}

func TestValidateContent_ValidTemplate(t *testing.T) {
	result := ValidateContent(validTemplate, "full_feature.yaml")
	assert.True(t, result.Valid, result.Format())
	assert.Equal(t, KindTemplate, result.Kind)
}

func TestValidateContent_TemplateDuplicateStage(t *testing.T) {
	content := `apiVersion: agentforge/v1
kind: Template
metadata:
  name: dup
spec:
  stages:
    - name: spec
      agent: a
      output_contract: c
    - name: spec
      agent: b
      output_contract: c
`
	result := ValidateContent(content, "")

	require.False(t, result.Valid)
	found := false
	for _, e := range result.Errors {
		if e.Level == LevelSemantic {
			found = true
			assert.Contains(t, e.Message, "Duplicate stage name")
		}
	}
	assert.True(t, found)
}

func TestValidateContent_TemplateBadReviewerMode(t *testing.T) {
	content := `apiVersion: agentforge/v1
kind: Template
metadata:
  name: badmode
spec:
  stages:
    - name: green
      agent: implementer
      output_contract: c
      reviewers:
        - role: reviewer
          mode: strict
`
	result := ValidateContent(content, "")

	require.False(t, result.Valid)
	found := false
	for _, e := range result.Errors {
		if e.Got == "strict" {
			found = true
			assert.Equal(t, "blocking or advisory", e.Expected)
		}
	}
	assert.True(t, found)
}

func TestValidateContent_UnknownKind(t *testing.T) {
	result := ValidateContent("apiVersion: agentforge/v1\nkind: Widget\nmetadata:\n  name: x\nspec: {}\n", "")

	require.False(t, result.Valid)
	found := false
	for _, e := range result.Errors {
		if e.Got == "Widget" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateFile_NotFound(t *testing.T) {
	result := ValidateFile(filepath.Join(t.TempDir(), "missing.yaml"))

	require.False(t, result.Valid)
	assert.Equal(t, LevelSyntax, result.Errors[0].Level)
}

func TestValidateFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validAgent), 0o644))

	result := ValidateFile(path)
	assert.True(t, result.Valid, result.Format())
	assert.Equal(t, path, result.FilePath)
}

func TestExtractLineNumber(t *testing.T) {
	assert.Equal(t, 12, extractLineNumber("yaml: line 12: mapping values are not allowed"))
	assert.Equal(t, 0, extractLineNumber("no line information"))
}

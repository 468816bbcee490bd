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
package conformance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/agentforge/pkg/types"
)

const testRuleSet = `version: 1
rules:
  style:
    - id: style/no-print
      pattern: 'fmt\.Println'
      file_glob: "**/*.go"
      message: use the structured logger instead of fmt.Println
      severity: warning
  security:
    - id: security/secrets
      pattern: '(?i)api_key\s*=\s*"'
      message: hardcoded credential
      severity: error
`

func newTestGate(t *testing.T) (*Gate, string) {
	t.Helper()
	root := t.TempDir()
	rs, err := ParseRuleSet([]byte(testRuleSet))
	require.NoError(t, err)
	gate, err := NewGate(root, rs, filepath.Join(root, ".cache"))
	require.NoError(t, err)
	return gate, root
}

func TestGate_CleanFilePasses(t *testing.T) {
	gate, root := newTestGate(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"),
		[]byte("package a\n\nfunc A() int { return 1 }\n"), 0o640))

	bundle := gate.Verify(context.Background(), []string{"a.go"})
	assert.True(t, bundle.Passed())
	assert.Empty(t, bundle.FailingLayers())
}

func TestGate_SecurityRuleFails(t *testing.T) {
	gate, root := newTestGate(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.go"),
		[]byte("package b\n\nvar api_key = \"sk-123\"\n"), 0o640))

	bundle := gate.Verify(context.Background(), []string{"b.go"})
	assert.False(t, bundle.Passed())

	sec := bundle.Layers[types.LayerSecurity]
	require.False(t, sec.Passed)
	require.Len(t, sec.Violations, 1)
	assert.Equal(t, "security/secrets", sec.Violations[0].CheckID)
	assert.Equal(t, 3, sec.Violations[0].Line)
}

func TestGate_WarningDoesNotFailLayerErrors(t *testing.T) {
	gate, root := newTestGate(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "c.go"),
		[]byte("package c\n\nfunc C() { fmt.Println(\"x\") }\n"), 0o640))

	bundle := gate.Verify(context.Background(), []string{"c.go"})
	style := bundle.Layers[types.LayerStyle]
	assert.True(t, style.Passed, "warning-only violations must not fail the layer")
	require.Len(t, style.Violations, 1)
	assert.Equal(t, "warning", style.Violations[0].Severity)
}

func TestGate_SyntaxFailureGatesLaterLayers(t *testing.T) {
	root := t.TempDir()
	rs, err := ParseRuleSet([]byte(`version: 1
checkers:
  syntax:
    command: ["false"]
rules:
  security:
    - id: security/secrets
      pattern: 'secret'
      message: hardcoded credential
      severity: error
`))
	require.NoError(t, err)
	gate, err := NewGate(root, rs, "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "d.go"), []byte("secret\n"), 0o640))

	bundle := gate.Verify(context.Background(), []string{"d.go"})
	assert.False(t, bundle.Layers[types.LayerSyntax].Passed)
	assert.True(t, bundle.Layers[types.LayerSecurity].Skipped)
	assert.True(t, bundle.Layers[types.LayerTests].Skipped)
	assert.Equal(t, []string{types.LayerSyntax}, bundle.FailingLayers())
}

func TestGate_VerdictCacheHitsForUnchangedFiles(t *testing.T) {
	gate, root := newTestGate(t)
	path := filepath.Join(root, "e.go")
	require.NoError(t, os.WriteFile(path, []byte("package e\nvar api_key = \"x\"\n"), 0o640))

	first := gate.Verify(context.Background(), []string{"e.go"})
	second := gate.Verify(context.Background(), []string{"e.go"})
	assert.Equal(t,
		first.Layers[types.LayerSecurity].Violations,
		second.Layers[types.LayerSecurity].Violations)

	// A second gate sharing the cache dir sees the persisted verdicts.
	rs, err := ParseRuleSet([]byte(testRuleSet))
	require.NoError(t, err)
	other, err := NewGate(root, rs, filepath.Join(root, ".cache"))
	require.NoError(t, err)
	hash, err := other.fileHash("e.go")
	require.NoError(t, err)
	_, ok := other.cache.get(hash, types.LayerSecurity)
	assert.True(t, ok)
}

func TestPhaseExit(t *testing.T) {
	assert.True(t, PhaseExit(nil, PhasePolicy{}))

	passing := &types.VerificationBundle{
		Layers: map[string]types.LayerResult{
			types.LayerSyntax:   {Passed: true},
			types.LayerSecurity: {Passed: true},
		},
		CreatedAt: time.Now(),
	}
	assert.True(t, PhaseExit(passing, PhasePolicy{}))

	failing := &types.VerificationBundle{
		Layers: map[string]types.LayerResult{
			types.LayerSyntax: {Passed: true},
			types.LayerSecurity: {Passed: false, Violations: []types.Violation{
				{CheckID: "security/secrets", Severity: "error"},
			}},
		},
	}
	assert.False(t, PhaseExit(failing, PhasePolicy{}))

	warningsOnly := &types.VerificationBundle{
		Layers: map[string]types.LayerResult{
			types.LayerStyle: {Passed: false, Violations: []types.Violation{
				{CheckID: "style/no-print", Severity: "warning"},
			}},
		},
	}
	assert.False(t, PhaseExit(warningsOnly, PhasePolicy{}))
	assert.True(t, PhaseExit(warningsOnly, PhasePolicy{AllowWarnings: true}))

	gated := &types.VerificationBundle{
		Layers: map[string]types.LayerResult{
			types.LayerSyntax:   {Passed: false},
			types.LayerSecurity: {Skipped: true},
		},
	}
	assert.False(t, PhaseExit(gated, PhasePolicy{RequiredLayers: []string{types.LayerSecurity}}))
}

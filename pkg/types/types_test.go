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
package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUsage_Add(t *testing.T) {
	u := Usage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150, CostUSD: 0.01}
	u.Add(Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, CostUSD: 0.001})

	assert.Equal(t, 110, u.InputTokens)
	assert.Equal(t, 55, u.OutputTokens)
	assert.Equal(t, 165, u.TotalTokens)
	assert.InDelta(t, 0.011, u.CostUSD, 1e-9)
}

func TestVerificationBundle_Passed(t *testing.T) {
	tests := []struct {
		name   string
		bundle *VerificationBundle
		want   bool
	}{
		{
			name:   "nil bundle passes",
			bundle: nil,
			want:   true,
		},
		{
			name: "all layers passed",
			bundle: &VerificationBundle{Layers: map[string]LayerResult{
				LayerSyntax:    {Passed: true},
				LayerTypeCheck: {Passed: true},
			}},
			want: true,
		},
		{
			name: "one layer failed",
			bundle: &VerificationBundle{Layers: map[string]LayerResult{
				LayerSyntax: {Passed: true},
				LayerStyle:  {Passed: false},
			}},
			want: false,
		},
		{
			name: "skipped layers do not count as failures",
			bundle: &VerificationBundle{Layers: map[string]LayerResult{
				LayerSyntax:    {Passed: false},
				LayerTypeCheck: {Skipped: true},
				LayerTests:     {Skipped: true},
			}},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.bundle.Passed())
		})
	}
}

func TestVerificationBundle_FailingLayers_CanonicalOrder(t *testing.T) {
	bundle := &VerificationBundle{Layers: map[string]LayerResult{
		LayerTests:  {Passed: false},
		LayerSyntax: {Passed: false},
		LayerStyle:  {Passed: true},
	}}

	assert.Equal(t, []string{LayerSyntax, LayerTests}, bundle.FailingLayers())
}

func TestVerificationBundle_AllViolations(t *testing.T) {
	bundle := &VerificationBundle{
		Layers: map[string]LayerResult{
			LayerStyle: {Passed: false, Violations: []Violation{
				{CheckID: "style/naming", File: "src/a.go", Line: 12, Message: "bad name", Severity: "error"},
			}},
			LayerSyntax: {Passed: true},
		},
		CreatedAt: time.Now(),
	}

	all := bundle.AllViolations()
	assert.Len(t, all, 1)
	assert.Equal(t, "style/naming", all[0].CheckID)
	assert.Contains(t, all[0].String(), "src/a.go:12")
}

func TestReviewRecord_Blocking(t *testing.T) {
	rec := &ReviewRecord{
		Reviewer: "security_reviewer",
		Issues: []ReviewIssue{
			{Severity: ReviewAdvisory, Description: "consider shorter names"},
			{Severity: ReviewBlocking, Description: "secret committed"},
		},
	}

	assert.True(t, rec.HasBlocking())
	assert.Len(t, rec.BlockingIssues(), 1)
	assert.Equal(t, "secret committed", rec.BlockingIssues()[0].Description)

	advisoryOnly := &ReviewRecord{Issues: []ReviewIssue{{Severity: ReviewAdvisory, Description: "nit"}}}
	assert.False(t, advisoryOnly.HasBlocking())
	assert.Empty(t, advisoryOnly.BlockingIssues())
}

func TestDecision_Valid(t *testing.T) {
	for _, d := range []Decision{DecisionApprove, DecisionRevise, DecisionReject, DecisionExit, DecisionExtend} {
		assert.True(t, d.Valid(), string(d))
	}
	assert.False(t, Decision("maybe").Valid())
	assert.False(t, Decision("").Valid())
}

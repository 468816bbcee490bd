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
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/agentforge/pkg/types"
)

// ReportedViolation is one finding in a violation report, addressable by id
// (e.g. "V-001") so fix tasks can target it.
type ReportedViolation struct {
	ID              string `yaml:"id"`
	types.Violation `yaml:",inline"`
}

// ViolationReport is the on-disk report fix tasks resolve violation ids
// against. External scanners produce it; the gate's bundles can be folded
// into one with FromBundle.
type ViolationReport struct {
	Version     int                 `yaml:"version"`
	GeneratedAt time.Time           `yaml:"generated_at"`
	Violations  []ReportedViolation `yaml:"violations"`
}

// LoadReport reads a violation report from path.
func LoadReport(path string) (*ViolationReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read violation report: %w", err)
	}
	var report ViolationReport
	if err := yaml.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse violation report %s: %w", path, err)
	}
	return &report, nil
}

// Find returns the violation with the given id.
func (r *ViolationReport) Find(id string) (*ReportedViolation, bool) {
	for i := range r.Violations {
		if r.Violations[i].ID == id {
			return &r.Violations[i], true
		}
	}
	return nil, false
}

// FromBundle folds a verification bundle into a report, assigning
// sequential V-NNN ids in layer order.
func FromBundle(bundle *types.VerificationBundle) *ViolationReport {
	report := &ViolationReport{
		Version:     1,
		GeneratedAt: time.Now().UTC(),
	}
	n := 0
	for _, layer := range types.LayerOrder {
		result, ok := bundle.Layers[layer]
		if !ok {
			continue
		}
		for _, v := range result.Violations {
			n++
			report.Violations = append(report.Violations, ReportedViolation{
				ID:        fmt.Sprintf("V-%03d", n),
				Violation: v,
			})
		}
	}
	return report
}

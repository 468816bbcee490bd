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
	"github.com/teradata-labs/agentforge/pkg/types"
)

// PhasePolicy declares what a stage requires of its latest verification
// bundle before it may exit.
type PhasePolicy struct {
	// RequiredLayers must all have passed. Empty means every layer.
	RequiredLayers []string `yaml:"required_layers,omitempty"`

	// AllowWarnings permits layers that failed only on warning-severity
	// violations. Error-severity violations always block.
	AllowWarnings bool `yaml:"allow_warnings,omitempty"`
}

// PhaseExit is the pure phase-exit predicate: given the latest bundle and
// the stage's policy, may the stage complete? A nil bundle means no edits
// were made, which is always exit-ready.
func PhaseExit(bundle *types.VerificationBundle, policy PhasePolicy) bool {
	if bundle == nil {
		return true
	}

	required := policy.RequiredLayers
	if len(required) == 0 {
		required = types.LayerOrder
	}

	for _, layer := range required {
		lr, ok := bundle.Layers[layer]
		if !ok {
			continue
		}
		if lr.Skipped {
			return false // gated by an earlier failure
		}
		if lr.Passed {
			continue
		}
		if !policy.AllowWarnings {
			return false
		}
		for _, v := range lr.Violations {
			if v.Severity == "error" {
				return false
			}
		}
	}
	return true
}

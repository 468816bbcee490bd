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
package embedded

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/agentforge/pkg/agent"
	"github.com/teradata-labs/agentforge/pkg/contract"
	"github.com/teradata-labs/agentforge/pkg/llm/simulated"
	"github.com/teradata-labs/agentforge/pkg/orchestration"
)

// The embedded defaults must cross-validate against each other: every
// agent's contract exists, every template's agents and contracts exist.
func TestDefaultsCrossValidate(t *testing.T) {
	contracts := contract.NewRegistry()
	for _, name := range Names(Contracts()) {
		require.NoError(t, contracts.Register(Contracts()[name]), name)
	}

	agents := agent.NewRegistry(contracts, nil)
	for _, name := range Names(Agents()) {
		require.NoError(t, agents.Register(Agents()[name], name), name)
	}
	require.NoError(t, agents.Finalize())

	templates := orchestration.NewTemplateRegistry(agents, contracts)
	for _, name := range Names(Templates()) {
		require.NoError(t, templates.Register(Templates()[name], name), name)
	}

	assert.Contains(t, templates.Names(), "feature")
	assert.Contains(t, templates.Names(), "fix")
	assert.Contains(t, agents.Roles(), "implementer")
	assert.Contains(t, contracts.Names(), "design_doc")
}

func TestSimulatedScriptParses(t *testing.T) {
	client, err := simulated.Parse(SimulatedScript())
	require.NoError(t, err)
	assert.Equal(t, "simulated", client.Name())
}

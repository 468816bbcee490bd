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
package orchestration

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/agentforge/pkg/agent"
	"github.com/teradata-labs/agentforge/pkg/contract"
)

func newTemplateRegistry(t *testing.T) *TemplateRegistry {
	t.Helper()
	contracts := contract.NewRegistry()
	require.NoError(t, contracts.Register([]byte(designContract)))
	require.NoError(t, contracts.Register([]byte(fmt.Sprintf(looseContract, "code_change"))))

	agents := agent.NewRegistry(contracts, nil)
	require.NoError(t, agents.Register(agentYAML("designer", "design_doc"), "designer.yaml"))
	require.NoError(t, agents.Register(agentYAML("implementer", "code_change"), "implementer.yaml"))

	return NewTemplateRegistry(agents, contracts)
}

const featureBody = `  stages:
    - name: design
      agent: designer
      output_contract: design_doc
      exit_point: true
    - name: implement
      agent: implementer
      input_contract: design_doc
      output_contract: code_change
      entry_point: true
`

func TestTemplateRegistry_RegisterAndGet(t *testing.T) {
	r := newTemplateRegistry(t)
	require.NoError(t, r.Register(templateYAML("feature", featureBody), "feature.yaml"))

	tmpl, err := r.Get("feature")
	require.NoError(t, err)
	assert.Equal(t, "feature", tmpl.Name())
	assert.Len(t, tmpl.Spec.Stages, 2)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
	assert.Equal(t, []string{"feature"}, r.Names())
}

func TestTemplateRegistry_RefusesUnknownAgent(t *testing.T) {
	r := newTemplateRegistry(t)
	err := r.Register(templateYAML("bad", `  stages:
    - name: design
      agent: nobody
      output_contract: design_doc
`), "bad.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nobody")
}

func TestTemplateRegistry_RefusesUnknownContract(t *testing.T) {
	r := newTemplateRegistry(t)
	err := r.Register(templateYAML("bad", `  stages:
    - name: design
      agent: designer
      output_contract: not_registered
`), "bad.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_registered")
}

func TestTemplateRegistry_RefusesBadSkipIf(t *testing.T) {
	r := newTemplateRegistry(t)
	err := r.Register(templateYAML("bad", `  stages:
    - name: design
      agent: designer
      output_contract: design_doc
      skip_if: "whenever"
`), "bad.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "skip_if")
}

func TestTemplateRegistry_RefusesBadExternalMapping(t *testing.T) {
	r := newTemplateRegistry(t)
	err := r.Register(templateYAML("bad", `  stages:
    - name: design
      agent: designer
      output_contract: design_doc
  accepts_external:
    design_doc: no_such_stage
`), "bad.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_such_stage")
}

func TestTemplate_Plan(t *testing.T) {
	r := newTemplateRegistry(t)
	require.NoError(t, r.Register(templateYAML("feature", featureBody), "feature.yaml"))
	tmpl, err := r.Get("feature")
	require.NoError(t, err)

	plan, err := tmpl.Plan("", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"design", "implement"}, plan)

	plan, err = tmpl.Plan("implement", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"implement"}, plan)

	plan, err = tmpl.Plan("", "design")
	require.NoError(t, err)
	assert.Equal(t, []string{"design"}, plan)

	// The last stage is always a valid exit, flagged or not.
	plan, err = tmpl.Plan("", "implement")
	require.NoError(t, err)
	assert.Equal(t, []string{"design", "implement"}, plan)

	_, err = tmpl.Plan("missing", "")
	assert.Error(t, err)
	_, err = tmpl.Plan("implement", "design")
	assert.Error(t, err)
}

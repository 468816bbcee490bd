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
package contract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/agentforge/internal/log"
	"github.com/teradata-labs/agentforge/pkg/state"
	"github.com/teradata-labs/agentforge/pkg/validation"
)

// ErrContractNotFound is returned when validating against an unregistered
// contract id.
var ErrContractNotFound = errors.New("contract not found")

// compiled is one registered contract plus its compiled schema.
type compiled struct {
	contract *Contract
	schema   *gojsonschema.Schema
}

// Registry holds the registered contracts, keyed by contract id.
type Registry struct {
	mu        sync.RWMutex
	contracts map[string]*compiled
	logger    *zap.Logger
}

// NewRegistry creates an empty contract registry.
func NewRegistry() *Registry {
	return &Registry{
		contracts: make(map[string]*compiled),
		logger:    log.Logger(),
	}
}

// Register parses, validates and compiles one contract document. A broken
// contract refuses registration.
func (r *Registry) Register(content []byte) error {
	vr := validation.ValidateContent(string(content), "")
	if vr.Kind != validation.KindContract {
		return fmt.Errorf("not a Contract document (kind %q)", vr.Kind)
	}
	if vr.HasErrors() {
		return &ValidationError{Contract: "(unregistered)", Errors: flatten(vr)}
	}

	var c Contract
	if err := yaml.Unmarshal(content, &c); err != nil {
		return fmt.Errorf("decode contract: %w", err)
	}
	if c.Metadata.Name == "" {
		return fmt.Errorf("contract has no metadata.name")
	}

	schemaDoc := jsonify(c.Spec.Schema)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaDoc))
	if err != nil {
		return fmt.Errorf("contract %s: compile schema: %w", c.Metadata.Name, err)
	}

	r.mu.Lock()
	r.contracts[c.Metadata.Name] = &compiled{contract: &c, schema: schema}
	r.mu.Unlock()

	r.logger.Debug("contract registered",
		zap.String("contract", c.Metadata.Name),
		zap.Int("rules", len(c.Spec.Validation)))
	return nil
}

// RegisterDir registers every *.yaml contract in a directory. Broken files
// are reported but do not stop the load.
func (r *Registry) RegisterDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read contract dir: %w", err)
	}
	var failures []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		if err := r.Register(content); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", entry.Name(), err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("contract load failures: %s", strings.Join(failures, "; "))
	}
	return nil
}

// Has reports whether a contract id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.contracts[id]
	return ok
}

// Get returns a registered contract.
func (r *Registry) Get(id string) (*Contract, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[id]
	if !ok {
		return nil, false
	}
	return c.contract, true
}

// Names lists registered contract ids, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.contracts))
	for name := range r.contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks artifact content against a registered contract: schema
// first, then semantic rules. The result's ArtifactHash is the content
// address of the canonicalized artifact.
func (r *Registry) Validate(content []byte, contractID string) (*Result, error) {
	r.mu.RLock()
	c, ok := r.contracts[contractID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("contract %q: %w", contractID, ErrContractNotFound)
	}

	result := &Result{
		Contract:     contractID,
		ArtifactHash: state.HashContent(content),
	}

	doc, err := decodeArtifact(content)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, nil
	}

	schemaResult, err := c.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("schema validation: %v", err))
		return result, nil
	}
	for _, desc := range schemaResult.Errors() {
		result.Errors = append(result.Errors, fmt.Sprintf("schema: %s", desc.String()))
	}

	raw := string(content)
	for _, rule := range c.contract.Spec.Validation {
		result.Errors = append(result.Errors, applyRule(rule, doc, raw)...)
	}

	result.Passed = len(result.Errors) == 0
	return result, nil
}

// MustValidate validates and converts a failure into the typed refusal
// error. Used on admission paths where a failed artifact refuses the whole
// pipeline.
func (r *Registry) MustValidate(content []byte, contractID string) (*Result, error) {
	result, err := r.Validate(content, contractID)
	if err != nil {
		return nil, err
	}
	if !result.Passed {
		return result, &ValidationError{Contract: contractID, Errors: result.Errors}
	}
	return result, nil
}

func flatten(vr validation.ValidationResult) []string {
	var out []string
	for _, e := range vr.Errors {
		if e.Field != "" {
			out = append(out, fmt.Sprintf("%s: %s", e.Field, e.Message))
			continue
		}
		out = append(out, e.Message)
	}
	return out
}

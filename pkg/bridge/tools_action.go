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
package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/teradata-labs/agentforge/pkg/types"
)

// CheckRunner is the conformance gate as the bridge sees it. Implemented by
// pkg/conformance; an interface here keeps the dependency one-way.
type CheckRunner interface {
	// Verify runs the layered check bundle over the given workspace-relative
	// files.
	Verify(ctx context.Context, files []string) *types.VerificationBundle

	// RunAffectedTests runs only the tests linked to the given files.
	RunAffectedTests(ctx context.Context, files []string) types.LayerResult
}

// Metadata keys set by terminal and memory tools.
const (
	MetaTerminal  = "terminal"
	MetaReason    = "reason"
	MetaSummary   = "summary"
	MetaArtifact  = "artifact"
	MetaMemoryKey = "memory_key"
	MetaMemoryPin = "memory_pin"
)

// completeTool is the terminal action that ends a stage with its output
// artifact.
type completeTool struct{}

func (t *completeTool) Name() string         { return ToolComplete }
func (t *completeTool) Description() string  { return "Finish the stage, submitting its output artifact" }
func (t *completeTool) PathParams() []string { return nil }

func (t *completeTool) InputSchema() *Schema {
	return NewObjectSchema("Submit the stage output and finish", map[string]*Schema{
		"artifact": NewStringSchema("The complete stage output artifact (YAML)"),
		"summary":  NewStringSchema("One-line summary of what was accomplished"),
	}, []string{"artifact"})
}

func (t *completeTool) Execute(_ context.Context, params map[string]interface{}) (*Result, error) {
	artifact, ok := StringParam(params, "artifact")
	if !ok || artifact == "" {
		return Failure(CodeInvalidParams, "complete requires a non-empty 'artifact' parameter"), nil
	}
	summary, _ := StringParam(params, "summary")
	return &Result{
		Success: true,
		Data:    "stage complete",
		Metadata: map[string]interface{}{
			MetaTerminal: ToolComplete,
			MetaArtifact: artifact,
			MetaSummary:  summary,
		},
	}, nil
}

// escalateTool is the terminal action that requests human intervention.
type escalateTool struct{}

func (t *escalateTool) Name() string         { return ToolEscalate }
func (t *escalateTool) Description() string  { return "Request human intervention and suspend the task" }
func (t *escalateTool) PathParams() []string { return nil }

func (t *escalateTool) InputSchema() *Schema {
	return NewObjectSchema("Escalate to a human", map[string]*Schema{
		"reason": NewStringSchema("Why human input is needed"),
	}, []string{"reason"})
}

func (t *escalateTool) Execute(_ context.Context, params map[string]interface{}) (*Result, error) {
	reason, ok := StringParam(params, "reason")
	if !ok || reason == "" {
		return Failure(CodeInvalidParams, "escalate requires a non-empty 'reason' parameter"), nil
	}
	return &Result{
		Success:  true,
		Data:     "escalated",
		Metadata: map[string]interface{}{MetaTerminal: ToolEscalate, MetaReason: reason},
	}, nil
}

// cannotFixTool is the terminal action for problems the agent judges
// unfixable within its capabilities.
type cannotFixTool struct{}

func (t *cannotFixTool) Name() string         { return ToolCannotFix }
func (t *cannotFixTool) Description() string  { return "Declare the problem unfixable and explain why" }
func (t *cannotFixTool) PathParams() []string { return nil }

func (t *cannotFixTool) InputSchema() *Schema {
	return NewObjectSchema("Declare the problem unfixable", map[string]*Schema{
		"reason": NewStringSchema("Why the problem cannot be fixed by this agent"),
	}, []string{"reason"})
}

func (t *cannotFixTool) Execute(_ context.Context, params map[string]interface{}) (*Result, error) {
	reason, ok := StringParam(params, "reason")
	if !ok || reason == "" {
		return Failure(CodeInvalidParams, "cannot_fix requires a non-empty 'reason' parameter"), nil
	}
	return &Result{
		Success:  true,
		Data:     "cannot fix",
		Metadata: map[string]interface{}{MetaTerminal: ToolCannotFix, MetaReason: reason},
	}, nil
}

// loadContextTool pins a file excerpt into working memory so it survives
// between steps.
type loadContextTool struct {
	root string
}

func (t *loadContextTool) Name() string { return "load_context" }
func (t *loadContextTool) Description() string {
	return "Pin a file excerpt into working memory for later steps"
}
func (t *loadContextTool) PathParams() []string { return []string{"path"} }

func (t *loadContextTool) InputSchema() *Schema {
	return NewObjectSchema("Pin context into working memory", map[string]*Schema{
		"path": NewStringSchema("Workspace-relative file to load"),
		"key":  NewStringSchema("Memory key to store the content under"),
	}, []string{"path", "key"})
}

func (t *loadContextTool) Execute(_ context.Context, params map[string]interface{}) (*Result, error) {
	rel, ok := StringParam(params, "path")
	if !ok {
		return Failure(CodeInvalidParams, "load_context requires a 'path' parameter"), nil
	}
	key, ok := StringParam(params, "key")
	if !ok || key == "" {
		return Failure(CodeInvalidParams, "load_context requires a 'key' parameter"), nil
	}
	data, err := os.ReadFile(filepath.Join(t.root, rel))
	if err != nil {
		return Failure(CodeExecutionFailed, fmt.Sprintf("read %s: %v", rel, err)), nil
	}
	return &Result{
		Success: true,
		Data:    string(data),
		Metadata: map[string]interface{}{
			MetaPath:      rel,
			MetaMemoryKey: key,
			MetaMemoryPin: true,
		},
	}, nil
}

// runCheckTool invokes the conformance gate on demand.
type runCheckTool struct {
	checks CheckRunner
}

func (t *runCheckTool) Name() string         { return "run_check" }
func (t *runCheckTool) Description() string  { return "Run the conformance check bundle on a file" }
func (t *runCheckTool) PathParams() []string { return []string{"file"} }

func (t *runCheckTool) InputSchema() *Schema {
	return NewObjectSchema("Run verification checks", map[string]*Schema{
		"file": NewStringSchema("Workspace-relative file to check"),
	}, []string{"file"})
}

func (t *runCheckTool) Execute(ctx context.Context, params map[string]interface{}) (*Result, error) {
	file, ok := StringParam(params, "file")
	if !ok {
		return Failure(CodeInvalidParams, "run_check requires a 'file' parameter"), nil
	}
	bundle := t.checks.Verify(ctx, []string{file})
	return &Result{
		Success:  bundle.Passed(),
		Data:     bundle,
		Metadata: map[string]interface{}{MetaPath: file},
	}, nil
}

// runTestsTool runs the tests linked to the given files.
type runTestsTool struct {
	checks CheckRunner
}

func (t *runTestsTool) Name() string         { return "run_tests" }
func (t *runTestsTool) Description() string  { return "Run tests affected by the given files" }
func (t *runTestsTool) PathParams() []string { return []string{"file"} }

func (t *runTestsTool) InputSchema() *Schema {
	return NewObjectSchema("Run affected tests", map[string]*Schema{
		"file": NewStringSchema("Workspace-relative file whose tests should run"),
	}, []string{"file"})
}

func (t *runTestsTool) Execute(ctx context.Context, params map[string]interface{}) (*Result, error) {
	file, ok := StringParam(params, "file")
	if !ok {
		return Failure(CodeInvalidParams, "run_tests requires a 'file' parameter"), nil
	}
	lr := t.checks.RunAffectedTests(ctx, []string{file})
	return &Result{
		Success:  lr.Passed,
		Data:     lr,
		Metadata: map[string]interface{}{MetaPath: file},
	}, nil
}

// RegisterBuiltins seeds a registry with the standard tool set bound to a
// workspace root and the conformance gate.
func RegisterBuiltins(reg *Registry, root string, checks CheckRunner) {
	reg.Register(&readFileTool{root: root})
	reg.Register(&writeFileTool{root: root})
	reg.Register(&editFileTool{root: root})
	reg.Register(&listFilesTool{root: root})
	reg.Register(&searchCodeTool{root: root})
	reg.Register(&loadContextTool{root: root})
	reg.Register(&runCheckTool{checks: checks})
	reg.Register(&runTestsTool{checks: checks})
	reg.Register(&completeTool{})
	reg.Register(&escalateTool{})
	reg.Register(&cannotFixTool{})
}

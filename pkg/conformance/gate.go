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
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/teradata-labs/agentforge/internal/log"
	"github.com/teradata-labs/agentforge/pkg/state"
	"github.com/teradata-labs/agentforge/pkg/types"
)

const (
	defaultCheckerTimeout = 60 * time.Second
	defaultTestTimeout    = 300 * time.Second
)

// Gate runs the layered verification bundle over workspace files.
type Gate struct {
	root   string
	rules  *RuleSet
	cache  *verdictCache
	logger *zap.Logger
}

// NewGate creates a gate over the given workspace root. cacheDir is where
// the shared verdict cache lives; empty disables the disk tier.
func NewGate(root string, rules *RuleSet, cacheDir string) (*Gate, error) {
	if rules == nil {
		rules = &RuleSet{Version: 1}
	}
	cache, err := newVerdictCache(cacheDir)
	if err != nil {
		return nil, err
	}
	return &Gate{
		root:   root,
		rules:  rules,
		cache:  cache,
		logger: log.Logger(),
	}, nil
}

// Verify runs the full layer stack over the given workspace-relative files.
// Syntax failure gates every later layer: they are marked skipped, not
// failed. The gate only reports; callers decide what a failure means.
func (g *Gate) Verify(ctx context.Context, files []string) *types.VerificationBundle {
	bundle := &types.VerificationBundle{
		Layers:    make(map[string]types.LayerResult),
		Files:     append([]string(nil), files...),
		CreatedAt: time.Now().UTC(),
	}

	gated := false
	for _, layer := range types.LayerOrder {
		if gated {
			bundle.Layers[layer] = types.LayerResult{Skipped: true}
			continue
		}

		var lr types.LayerResult
		switch layer {
		case types.LayerSyntax, types.LayerTypeCheck:
			lr = g.runCheckerLayer(ctx, layer, files)
		case types.LayerTests:
			lr = g.RunAffectedTests(ctx, files)
		default:
			lr = g.runRuleLayer(layer, files)
		}
		bundle.Layers[layer] = lr

		if layer == types.LayerSyntax && !lr.Passed {
			gated = true
		}
	}

	g.logger.Debug("verification bundle computed",
		zap.Strings("files", files),
		zap.Bool("passed", bundle.Passed()),
		zap.Strings("failing", bundle.FailingLayers()))
	return bundle
}

// runCheckerLayer runs an external checker per file, with per-file verdict
// caching. A layer with no configured checker passes trivially.
func (g *Gate) runCheckerLayer(ctx context.Context, layer string, files []string) types.LayerResult {
	checker, ok := g.rules.Checkers[checkerName(layer)]
	if !ok || len(checker.Command) == 0 {
		return types.LayerResult{Passed: true}
	}

	start := time.Now()
	result := types.LayerResult{Passed: true}
	for _, file := range files {
		hash, err := g.fileHash(file)
		if err != nil {
			result.Passed = false
			result.Violations = append(result.Violations, types.Violation{
				CheckID:  layer,
				File:     file,
				Message:  fmt.Sprintf("cannot read file: %v", err),
				Severity: "error",
			})
			continue
		}
		if v, ok := g.cache.get(hash, layer); ok {
			if !v.Passed {
				result.Passed = false
			}
			result.Violations = append(result.Violations, v.Violations...)
			continue
		}

		violations := g.runChecker(ctx, checker, layer, file)
		verdict := cachedVerdict{
			Passed:     len(violations) == 0,
			Violations: violations,
			CheckedAt:  time.Now().UTC(),
		}
		g.cache.put(hash, layer, verdict)

		if !verdict.Passed {
			result.Passed = false
		}
		result.Violations = append(result.Violations, violations...)
	}
	result.Duration = time.Since(start)
	return result
}

// checkerOutputRe parses "path:line: message" checker output lines.
var checkerOutputRe = regexp.MustCompile(`^(.+?):(\d+)(?::\d+)?:\s*(.+)$`)

// runChecker invokes one external checker for one file and parses stdout
// into violation records.
func (g *Gate) runChecker(ctx context.Context, checker Checker, layer, file string) []types.Violation {
	timeout := defaultCheckerTimeout
	if checker.TimeoutSeconds > 0 {
		timeout = time.Duration(checker.TimeoutSeconds) * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := make([]string, len(checker.Command))
	for i, arg := range checker.Command {
		arg = strings.ReplaceAll(arg, "{file}", file)
		arg = strings.ReplaceAll(arg, "{baseline}", g.rules.Baseline)
		argv[i] = arg
	}

	cmd := exec.CommandContext(cctx, argv[0], argv[1:]...) // #nosec G204 -- argv comes from operator-owned rule-set config
	cmd.Dir = g.root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil && stdout.Len() == 0 {
		return nil
	}

	var violations []types.Violation
	for _, line := range strings.Split(strings.TrimSpace(stdout.String()), "\n") {
		if line == "" {
			continue
		}
		if m := checkerOutputRe.FindStringSubmatch(line); m != nil {
			lineNo, _ := strconv.Atoi(m[2])
			violations = append(violations, types.Violation{
				CheckID:  layer,
				File:     m[1],
				Line:     lineNo,
				Message:  m[3],
				Severity: "error",
			})
			continue
		}
		violations = append(violations, types.Violation{
			CheckID:  layer,
			File:     file,
			Message:  line,
			Severity: "error",
		})
	}
	if err != nil && len(violations) == 0 {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		violations = append(violations, types.Violation{
			CheckID:  layer,
			File:     file,
			Message:  fmt.Sprintf("checker failed: %s", msg),
			Severity: "error",
		})
	}
	return violations
}

// runRuleLayer evaluates the in-process declarative rules for one layer.
func (g *Gate) runRuleLayer(layer string, files []string) types.LayerResult {
	rules := g.rules.layerRules(layer)
	if len(rules) == 0 {
		return types.LayerResult{Passed: true}
	}

	start := time.Now()
	result := types.LayerResult{Passed: true}
	for _, file := range files {
		hash, err := g.fileHash(file)
		if err != nil {
			continue // a vanished file has nothing to check
		}
		if v, ok := g.cache.get(hash, layer); ok {
			if !v.Passed {
				result.Passed = false
			}
			result.Violations = append(result.Violations, v.Violations...)
			continue
		}

		violations := g.applyRules(rules, file)
		g.cache.put(hash, layer, cachedVerdict{
			Passed:     !hasErrors(violations),
			Violations: violations,
			CheckedAt:  time.Now().UTC(),
		})
		if hasErrors(violations) {
			result.Passed = false
		}
		result.Violations = append(result.Violations, violations...)
	}
	result.Duration = time.Since(start)
	return result
}

func (g *Gate) applyRules(rules []Rule, file string) []types.Violation {
	data, err := os.ReadFile(filepath.Join(g.root, file))
	if err != nil {
		return nil
	}
	var violations []types.Violation
	lines := strings.Split(string(data), "\n")
	for _, rule := range rules {
		if rule.FileGlob != "" {
			if ok, _ := doublestar.Match(rule.FileGlob, file); !ok {
				continue
			}
		}
		if rule.compiled == nil {
			continue
		}
		for i, line := range lines {
			if rule.compiled.MatchString(line) {
				violations = append(violations, types.Violation{
					CheckID:  rule.ID,
					File:     file,
					Line:     i + 1,
					Message:  rule.Message,
					Severity: rule.Severity,
				})
			}
		}
	}
	return violations
}

// RunAffectedTests runs the test commands mapped to the given files. Files
// with no mapping contribute nothing; no mapping at all passes.
func (g *Gate) RunAffectedTests(ctx context.Context, files []string) types.LayerResult {
	start := time.Now()
	result := types.LayerResult{Passed: true}

	ran := map[string]bool{}
	for _, mapping := range g.rules.TestMapping {
		matched := false
		for _, file := range files {
			if ok, _ := doublestar.Match(mapping.SourceGlob, file); ok {
				matched = true
				break
			}
		}
		if !matched || len(mapping.Command) == 0 {
			continue
		}
		key := strings.Join(mapping.Command, " ")
		if ran[key] {
			continue
		}
		ran[key] = true

		timeout := defaultTestTimeout
		if mapping.TimeoutSeconds > 0 {
			timeout = time.Duration(mapping.TimeoutSeconds) * time.Second
		}
		tctx, cancel := context.WithTimeout(ctx, timeout)
		cmd := exec.CommandContext(tctx, mapping.Command[0], mapping.Command[1:]...) // #nosec G204 -- operator-owned config
		cmd.Dir = g.root
		var output bytes.Buffer
		cmd.Stdout = &output
		cmd.Stderr = &output
		err := cmd.Run()
		cancel()

		if err != nil {
			result.Passed = false
			msg := strings.TrimSpace(output.String())
			if len(msg) > 500 {
				msg = msg[:500]
			}
			result.Violations = append(result.Violations, types.Violation{
				CheckID:  types.LayerTests,
				File:     mapping.SourceGlob,
				Message:  fmt.Sprintf("tests failed: %s", msg),
				Severity: "error",
			})
		}
	}
	result.Duration = time.Since(start)
	return result
}

func (g *Gate) fileHash(file string) (string, error) {
	data, err := os.ReadFile(filepath.Join(g.root, file))
	if err != nil {
		return "", err
	}
	return state.HashBytes(data), nil
}

func hasErrors(violations []types.Violation) bool {
	for _, v := range violations {
		if v.Severity == "error" {
			return true
		}
	}
	return false
}

// checkerName maps a verification layer to its checker key in the rule set.
func checkerName(layer string) string {
	switch layer {
	case types.LayerSyntax:
		return "syntax"
	case types.LayerTypeCheck:
		return "type_check"
	}
	return layer
}

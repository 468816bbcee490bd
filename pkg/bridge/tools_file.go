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
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Result metadata keys shared by the editing tools. The executor uses the
// before/after bodies to produce step diff snapshots.
const (
	MetaPath        = "path"
	MetaContentOld  = "content_old"
	MetaContentNew  = "content_new"
	MetaFileWritten = "file_written"
)

const maxSearchMatches = 100

// readFileTool reads a workspace file, optionally a line range.
type readFileTool struct {
	root string
}

func (t *readFileTool) Name() string        { return "read_file" }
func (t *readFileTool) Description() string { return "Read a file from the workspace" }
func (t *readFileTool) PathParams() []string {
	return []string{"path"}
}

func (t *readFileTool) InputSchema() *Schema {
	return NewObjectSchema("Read a file, optionally a line range", map[string]*Schema{
		"path":       NewStringSchema("Workspace-relative file path"),
		"start_line": NewIntegerSchema("First line to read (1-based, optional)"),
		"end_line":   NewIntegerSchema("Last line to read (inclusive, optional)"),
	}, []string{"path"})
}

func (t *readFileTool) Execute(_ context.Context, params map[string]interface{}) (*Result, error) {
	rel, ok := StringParam(params, "path")
	if !ok {
		return Failure(CodeInvalidParams, "read_file requires a 'path' parameter"), nil
	}
	data, err := os.ReadFile(filepath.Join(t.root, rel))
	if err != nil {
		return Failure(CodeExecutionFailed, fmt.Sprintf("read %s: %v", rel, err)), nil
	}

	content := string(data)
	if start, ok := IntParam(params, "start_line"); ok {
		lines := strings.Split(content, "\n")
		end, hasEnd := IntParam(params, "end_line")
		if !hasEnd || end > len(lines) {
			end = len(lines)
		}
		if start < 1 {
			start = 1
		}
		if start > len(lines) {
			return Failure(CodeInvalidParams,
				fmt.Sprintf("start_line %d beyond end of %s (%d lines)", start, rel, len(lines))), nil
		}
		content = strings.Join(lines[start-1:end], "\n")
	}

	return &Result{
		Success:  true,
		Data:     content,
		Metadata: map[string]interface{}{MetaPath: rel},
	}, nil
}

// writeFileTool creates or replaces a workspace file.
type writeFileTool struct {
	root string
}

func (t *writeFileTool) Name() string        { return "write_file" }
func (t *writeFileTool) Description() string { return "Create or replace a file in the workspace" }
func (t *writeFileTool) PathParams() []string {
	return []string{"path"}
}

func (t *writeFileTool) InputSchema() *Schema {
	return NewObjectSchema("Write full file content", map[string]*Schema{
		"path":    NewStringSchema("Workspace-relative file path"),
		"content": NewStringSchema("Complete new file content"),
	}, []string{"path", "content"})
}

func (t *writeFileTool) Execute(_ context.Context, params map[string]interface{}) (*Result, error) {
	rel, ok := StringParam(params, "path")
	if !ok {
		return Failure(CodeInvalidParams, "write_file requires a 'path' parameter"), nil
	}
	content, ok := StringParam(params, "content")
	if !ok {
		return Failure(CodeInvalidParams, "write_file requires a 'content' parameter"), nil
	}

	abs := filepath.Join(t.root, rel)
	old, _ := os.ReadFile(abs)
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return Failure(CodeExecutionFailed, fmt.Sprintf("create parent dir for %s: %v", rel, err)), nil
	}
	if err := os.WriteFile(abs, []byte(content), 0o640); err != nil {
		return Failure(CodeExecutionFailed, fmt.Sprintf("write %s: %v", rel, err)), nil
	}

	return &Result{
		Success: true,
		Data:    fmt.Sprintf("wrote %d bytes to %s", len(content), rel),
		Metadata: map[string]interface{}{
			MetaPath:        rel,
			MetaContentOld:  string(old),
			MetaContentNew:  content,
			MetaFileWritten: true,
		},
	}, nil
}

// editFileTool replaces a line range in an existing file.
type editFileTool struct {
	root string
}

func (t *editFileTool) Name() string        { return "edit_file" }
func (t *editFileTool) Description() string { return "Replace a line range in an existing file" }
func (t *editFileTool) PathParams() []string {
	return []string{"path"}
}

func (t *editFileTool) InputSchema() *Schema {
	return NewObjectSchema("Replace lines start_line..end_line with content", map[string]*Schema{
		"path":       NewStringSchema("Workspace-relative file path"),
		"start_line": NewIntegerSchema("First line to replace (1-based)"),
		"end_line":   NewIntegerSchema("Last line to replace (inclusive)"),
		"content":    NewStringSchema("Replacement text"),
	}, []string{"path", "start_line", "end_line", "content"})
}

func (t *editFileTool) Execute(_ context.Context, params map[string]interface{}) (*Result, error) {
	rel, ok := StringParam(params, "path")
	if !ok {
		return Failure(CodeInvalidParams, "edit_file requires a 'path' parameter"), nil
	}
	start, ok := IntParam(params, "start_line")
	if !ok {
		return Failure(CodeInvalidParams, "edit_file requires a 'start_line' parameter"), nil
	}
	end, ok := IntParam(params, "end_line")
	if !ok {
		return Failure(CodeInvalidParams, "edit_file requires an 'end_line' parameter"), nil
	}
	content, ok := StringParam(params, "content")
	if !ok {
		return Failure(CodeInvalidParams, "edit_file requires a 'content' parameter"), nil
	}

	abs := filepath.Join(t.root, rel)
	old, err := os.ReadFile(abs)
	if err != nil {
		return Failure(CodeExecutionFailed, fmt.Sprintf("read %s: %v", rel, err)), nil
	}

	lines := strings.Split(string(old), "\n")
	if start < 1 || start > len(lines) || end < start {
		return Failure(CodeInvalidParams,
			fmt.Sprintf("invalid line range %d..%d for %s (%d lines)", start, end, rel, len(lines))), nil
	}
	if end > len(lines) {
		end = len(lines)
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(lines[:start-1], "\n"))
	if start > 1 {
		sb.WriteString("\n")
	}
	sb.WriteString(content)
	if end < len(lines) {
		if !strings.HasSuffix(content, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString(strings.Join(lines[end:], "\n"))
	}
	updated := sb.String()

	if err := os.WriteFile(abs, []byte(updated), 0o640); err != nil {
		return Failure(CodeExecutionFailed, fmt.Sprintf("write %s: %v", rel, err)), nil
	}

	return &Result{
		Success: true,
		Data:    fmt.Sprintf("replaced lines %d..%d of %s", start, end, rel),
		Metadata: map[string]interface{}{
			MetaPath:        rel,
			MetaContentOld:  string(old),
			MetaContentNew:  updated,
			MetaFileWritten: true,
		},
	}, nil
}

// listFilesTool lists workspace files matching a glob.
type listFilesTool struct {
	root string
}

func (t *listFilesTool) Name() string         { return "list_files" }
func (t *listFilesTool) Description() string  { return "List workspace files matching a glob pattern" }
func (t *listFilesTool) PathParams() []string { return nil }

func (t *listFilesTool) InputSchema() *Schema {
	return NewObjectSchema("List files by glob", map[string]*Schema{
		"glob": NewStringSchema("Doublestar glob pattern (default '**')").WithDefault("**"),
	}, nil)
}

func (t *listFilesTool) Execute(_ context.Context, params map[string]interface{}) (*Result, error) {
	glob, ok := StringParam(params, "glob")
	if !ok || glob == "" {
		glob = "**"
	}
	matches, err := doublestar.Glob(os.DirFS(t.root), glob)
	if err != nil {
		return Failure(CodeInvalidParams, fmt.Sprintf("invalid glob %q: %v", glob, err)), nil
	}
	sort.Strings(matches)
	if len(matches) > maxSearchMatches {
		matches = matches[:maxSearchMatches]
	}
	return Ok(matches), nil
}

// searchMatch is one search_code hit.
type searchMatch struct {
	File string `yaml:"file" json:"file"`
	Line int    `yaml:"line" json:"line"`
	Text string `yaml:"text" json:"text"`
}

// searchCodeTool greps the workspace with a regular expression.
type searchCodeTool struct {
	root string
}

func (t *searchCodeTool) Name() string         { return "search_code" }
func (t *searchCodeTool) Description() string  { return "Search workspace files with a regular expression" }
func (t *searchCodeTool) PathParams() []string { return nil }

func (t *searchCodeTool) InputSchema() *Schema {
	return NewObjectSchema("Regex search over the workspace", map[string]*Schema{
		"pattern": NewStringSchema("Regular expression to search for"),
		"glob":    NewStringSchema("Restrict to files matching this glob (optional)"),
	}, []string{"pattern"})
}

func (t *searchCodeTool) Execute(ctx context.Context, params map[string]interface{}) (*Result, error) {
	pattern, ok := StringParam(params, "pattern")
	if !ok {
		return Failure(CodeInvalidParams, "search_code requires a 'pattern' parameter"), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Failure(CodeInvalidParams, fmt.Sprintf("invalid pattern %q: %v", pattern, err)), nil
	}
	glob, _ := StringParam(params, "glob")

	var matches []searchMatch
	walkErr := filepath.WalkDir(t.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if name := d.Name(); name == ".git" || name == "node_modules" || name == "vendor" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(t.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if glob != "" {
			if ok, _ := doublestar.Match(glob, rel); !ok {
				return nil
			}
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil // unreadable files are not matches
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				matches = append(matches, searchMatch{File: rel, Line: i + 1, Text: strings.TrimSpace(line)})
				if len(matches) >= maxSearchMatches {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if walkErr != nil && len(matches) == 0 {
		return Failure(CodeExecutionFailed, fmt.Sprintf("search: %v", walkErr)), nil
	}

	return &Result{
		Success:  true,
		Data:     matches,
		Metadata: map[string]interface{}{"match_count": len(matches)},
	}, nil
}

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

// Package embedded ships the default agent, template and contract
// definitions inside the binary, so a fresh install works before any
// definition directory exists.
package embedded

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
)

//go:embed defs
var defs embed.FS

// Agents returns the embedded agent definitions, name → content.
func Agents() map[string][]byte {
	return mustDir("defs/agents")
}

// Templates returns the embedded pipeline templates, name → content.
func Templates() map[string][]byte {
	return mustDir("defs/templates")
}

// Contracts returns the embedded contracts, name → content.
func Contracts() map[string][]byte {
	return mustDir("defs/contracts")
}

// SimulatedScript returns the default script for simulated mode.
func SimulatedScript() []byte {
	data, err := defs.ReadFile("defs/simulated_script.yaml")
	if err != nil {
		panic(fmt.Sprintf("embedded script missing: %v", err))
	}
	return data
}

// Names lists a set's keys sorted, for stable registration order.
func Names(set map[string][]byte) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func mustDir(dir string) map[string][]byte {
	entries, err := fs.ReadDir(defs, dir)
	if err != nil {
		panic(fmt.Sprintf("embedded dir %s missing: %v", dir, err))
	}
	out := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := defs.ReadFile(path.Join(dir, entry.Name()))
		if err != nil {
			panic(fmt.Sprintf("embedded file %s: %v", entry.Name(), err))
		}
		out[entry.Name()] = data
	}
	return out
}

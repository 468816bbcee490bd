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

// Package config resolves the forge configuration: flags over config file
// over environment over defaults, with secrets in the system keyring.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDir returns the forge data directory: AGENTFORGE_DATA_DIR when set,
// otherwise ~/.agentforge. The result is absolute; ~ and relative paths
// are expanded. Read from the environment directly because this locates
// the config file itself.
func DataDir() string {
	if dir := os.Getenv("AGENTFORGE_DATA_DIR"); dir != "" {
		return expandPath(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentforge"
	}
	return filepath.Join(home, ".agentforge")
}

// expandPath makes a path absolute, expanding a leading tilde.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

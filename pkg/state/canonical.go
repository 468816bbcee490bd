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
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Canonicalize normalizes content so equal documents hash equally: YAML is
// round-tripped (which sorts mapping keys), line endings become LF, and a
// single trailing newline is guaranteed. Non-YAML content is normalized
// textually only.
func Canonicalize(content []byte) []byte {
	var doc interface{}
	if err := yaml.Unmarshal(content, &doc); err == nil && doc != nil {
		if out, err := yaml.Marshal(doc); err == nil {
			return out
		}
	}

	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return []byte(text)
}

// CanonicalizeValue marshals a Go value to canonical YAML.
func CanonicalizeValue(v interface{}) ([]byte, error) {
	out, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

// HashBytes returns the hex SHA-256 of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashContent returns the hex SHA-256 of canonicalized content. This is the
// artifact content address.
func HashContent(content []byte) string {
	return HashBytes(Canonicalize(content))
}

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
package config

import (
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

// ServiceName is the keyring service entries are stored under.
const ServiceName = "agentforge"

// AnthropicKeyName is the keyring entry for the Anthropic API key.
const AnthropicKeyName = "anthropic_api_key"

// APIKey resolves the Anthropic API key: the environment wins, then the
// system keyring. An empty result means simulated mode is the only option.
func APIKey() string {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key
	}
	key, err := keyring.Get(ServiceName, AnthropicKeyName)
	if err != nil {
		return ""
	}
	return key
}

// SaveAPIKey stores the key in the system keyring.
func SaveAPIKey(key string) error {
	if key == "" {
		return fmt.Errorf("refusing to store an empty key")
	}
	if err := keyring.Set(ServiceName, AnthropicKeyName, key); err != nil {
		return fmt.Errorf("store key in keyring: %w", err)
	}
	return nil
}

// DeleteAPIKey removes the key from the system keyring.
func DeleteAPIKey() error {
	if err := keyring.Delete(ServiceName, AnthropicKeyName); err != nil {
		return fmt.Errorf("delete key from keyring: %w", err)
	}
	return nil
}

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
package agent

import (
	"fmt"
	"strings"
)

// SystemPromptBudget is the token ceiling for a built system prompt,
// checked at registration with the configured counter.
const SystemPromptBudget = 1500

// BuildSystemPrompt renders the definition into the system prompt. Section
// order is fixed so the same definition always produces the same prompt.
func BuildSystemPrompt(def *Definition) string {
	var b strings.Builder

	b.WriteString(strings.TrimSpace(def.Spec.Identity))
	b.WriteString("\n")

	if len(def.Spec.Expertise) > 0 {
		b.WriteString("\n## Expertise\n")
		for _, e := range def.Spec.Expertise {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	if def.Spec.ThinkingStyle != "" {
		b.WriteString("\n## Approach\n")
		b.WriteString(strings.TrimSpace(def.Spec.ThinkingStyle))
		b.WriteString("\n")
	}

	if len(def.Spec.Constraints) > 0 {
		b.WriteString("\n## Constraints\n")
		for _, c := range def.Spec.Constraints {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	tools := def.Spec.Capabilities.Tools
	if len(tools.Allowed) > 0 {
		b.WriteString("\n## Tools\n")
		fmt.Fprintf(&b, "You may only use: %s.\n", strings.Join(tools.Allowed, ", "))
		if len(tools.Forbidden) > 0 {
			fmt.Fprintf(&b, "Never use: %s.\n", strings.Join(tools.Forbidden, ", "))
		}
	}

	output := def.Spec.Capabilities.Output
	if output.Contract != "" {
		b.WriteString("\n## Output\n")
		fmt.Fprintf(&b, "Your final artifact must satisfy the %q contract.\n", output.Contract)
		if len(output.MustVerify) > 0 {
			fmt.Fprintf(&b, "Before calling complete, these checks must pass: %s.\n",
				strings.Join(output.MustVerify, ", "))
		}
		b.WriteString("Signal completion with the complete tool, naming the artifact. " +
			"If you are stuck, use escalate; if the task is impossible as stated, use cannot_fix.\n")
	}

	return b.String()
}

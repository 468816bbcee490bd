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
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/agentforge/pkg/validation"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List registered agent definitions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		regs, err := newRegistries(cfg)
		if err != nil {
			return err
		}
		for _, role := range regs.agents.Roles() {
			def, err := regs.agents.Get(role)
			if err != nil {
				continue
			}
			fmt.Printf("%-14s %s\n", role, def.Spec.Capabilities.Output.Contract)
		}
		return nil
	},
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List registered pipeline templates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		regs, err := newRegistries(cfg)
		if err != nil {
			return err
		}
		for _, name := range regs.templates.Names() {
			tmpl, err := regs.templates.Get(name)
			if err != nil {
				continue
			}
			fmt.Printf("%-14s %d stages\n", name, len(tmpl.Spec.Stages))
		}
		return nil
	},
}

var contractsCmd = &cobra.Command{
	Use:   "contracts",
	Short: "List registered contracts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		regs, err := newRegistries(cfg)
		if err != nil {
			return err
		}
		for _, name := range regs.contracts.Names() {
			fmt.Println(name)
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Validate a definition file (syntax, envelope, kind-specific structure)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result := validation.ValidateFile(args[0])
		fmt.Print(result.Format())
		if !result.Valid {
			return &codedError{code: exitTaskErr, err: fmt.Errorf("%s failed validation", args[0])}
		}
		return nil
	},
}

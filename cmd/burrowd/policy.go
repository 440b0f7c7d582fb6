package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and validate the access-policy document",
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compile the configured access-policy YAML and report any errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		universe := scopeSetFromNames(cfg.ScopeUniverse)
		compiler := policy.NewCompiler(universe, nil)
		p := policy.New(cfg.PolicyPath, compiler)
		if err := p.Load(context.Background()); err != nil {
			return fmt.Errorf("policy document is invalid: %w", err)
		}

		state := p.Current()
		fmt.Printf("✓ Policy document valid: %s\n", cfg.PolicyPath)
		fmt.Printf("  Tags:       %d\n", len(state.Tags))
		fmt.Printf("  Public tags: %d\n", len(state.Public))
		fmt.Printf("  Tag owners: %d\n", len(state.TagOwners))
		return nil
	},
}

func init() {
	policyCmd.AddCommand(policyValidateCmd)
}

package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/warden/cmd/warden/runtime"
	"github.com/harunnryd/warden/internal/formatter"

	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "View governance policy",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show roles, permissions and approval rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFlag, _ := cmd.Flags().GetString("output")
		format, err := formatter.ParseOutputFormat(outputFlag)
		if err != nil {
			return err
		}
		f, err := formatter.New(format)
		if err != nil {
			return err
		}

		return executeWithRuntime(cmd, runtime.ScopeGovernance, func(ctx context.Context, c *runtime.Components) error {
			out, err := f.FormatPolicy(formatter.NewPolicyView(c.Roles.Roles(), c.Enforcer.Rules()))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		})
	},
}

func init() {
	policyShowCmd.Flags().StringP("output", "o", "table", "output format (table, json, yaml)")
	policyCmd.AddCommand(policyShowCmd)
	rootCmd.AddCommand(policyCmd)
}

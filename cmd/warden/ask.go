package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harunnryd/warden/cmd/warden/runtime"
	"github.com/harunnryd/warden/internal/security/rbac"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [request...]",
	Short: "Run one request through the pipeline and print the result",
	Example: `  warden ask send an email subject=Hello
  warden ask --role admin review expense report_id=rpt-1`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		sessionID, _ := cmd.Flags().GetString("session")
		rawData, _ := cmd.Flags().GetString("data")

		request, data := runtime.ParseRequest(strings.Join(args, " "))
		if rawData != "" {
			if data == nil {
				data = map[string]any{}
			}
			if err := json.Unmarshal([]byte(rawData), &data); err != nil {
				return fmt.Errorf("invalid --data: %w", err)
			}
		}

		return executeWithRuntime(cmd, runtime.ScopeFull, func(ctx context.Context, c *runtime.Components) error {
			result, err := c.Orchestrator.HandleRequest(ctx, sessionID, role, request, data)
			if err != nil {
				return fmt.Errorf("%s", runtime.DescribeError(err))
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().String("role", rbac.RoleEmployee, "role the request acts as")
	askCmd.Flags().String("session", "cli", "session ID")
	askCmd.Flags().String("data", "", "request data as a JSON object")
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/harunnryd/warden/cmd/warden/runtime"
	"github.com/harunnryd/warden/internal/security/rbac"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive session",
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		sessionID, _ := cmd.Flags().GetString("session")
		if sessionID == "" {
			sessionID = fmt.Sprintf("cli-%d", time.Now().Unix())
		}

		return executeWithRuntime(cmd, runtime.ScopeFull, func(ctx context.Context, c *runtime.Components) error {
			return runtime.NewREPL(c, sessionID, role, os.Stdin, os.Stdout).Start(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("role", rbac.RoleEmployee, "role the session acts as (admin, employee, auditor)")
	runCmd.Flags().String("session", "", "session ID (default cli-<unix time>)")
}

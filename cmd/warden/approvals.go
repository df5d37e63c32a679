package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/harunnryd/warden/cmd/warden/runtime"
	"github.com/harunnryd/warden/internal/formatter"
	"github.com/harunnryd/warden/internal/security/hitl"

	"github.com/spf13/cobra"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Inspect and resolve human approval requests",
	Long:  `Approval requests are stored in a shared file, so these commands work while 'warden serve' is running.`,
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approval requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFlag, _ := cmd.Flags().GetString("status")
		outputFlag, _ := cmd.Flags().GetString("output")

		status, err := parseApprovalStatus(statusFlag)
		if err != nil {
			return err
		}
		format, err := formatter.ParseOutputFormat(outputFlag)
		if err != nil {
			return err
		}
		f, err := formatter.New(format)
		if err != nil {
			return err
		}

		return executeWithRuntime(cmd, runtime.ScopeGovernance, func(ctx context.Context, c *runtime.Components) error {
			requests, err := c.Approvals.List(status)
			if err != nil {
				return err
			}
			out, err := f.FormatApprovals(requests)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		})
	},
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve [request-id]",
	Short: "Grant a pending approval request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveApproval(cmd, args[0], true)
	},
}

var approvalsDenyCmd = &cobra.Command{
	Use:   "deny [request-id]",
	Short: "Deny a pending approval request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveApproval(cmd, args[0], false)
	},
}

func resolveApproval(cmd *cobra.Command, id string, approve bool) error {
	approver, _ := cmd.Flags().GetString("approver")
	if approver == "" {
		approver = defaultApprover()
	}

	return executeWithRuntime(cmd, runtime.ScopeGovernance, func(ctx context.Context, c *runtime.Components) error {
		verb := "Denied"
		var err error
		if approve {
			verb = "Approved"
			err = c.Approvals.Approve(ctx, id, approver)
		} else {
			err = c.Approvals.Deny(ctx, id, approver)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (by %s)\n", verb, id, approver)
		return nil
	})
}

func parseApprovalStatus(s string) (hitl.Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pending":
		return hitl.StatusPending, nil
	case "granted":
		return hitl.StatusGranted, nil
	case "denied":
		return hitl.StatusDenied, nil
	case "all":
		return "", nil
	default:
		return "", fmt.Errorf("invalid status: %s (supported: pending, granted, denied, all)", s)
	}
}

func defaultApprover() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

func init() {
	approvalsListCmd.Flags().String("status", "pending", "filter by status (pending, granted, denied, all)")
	approvalsListCmd.Flags().StringP("output", "o", "table", "output format (table, json, yaml)")
	for _, c := range []*cobra.Command{approvalsApproveCmd, approvalsDenyCmd} {
		c.Flags().String("approver", "", "approver identity (default $USER)")
	}

	approvalsCmd.AddCommand(approvalsListCmd, approvalsApproveCmd, approvalsDenyCmd)
	rootCmd.AddCommand(approvalsCmd)
}

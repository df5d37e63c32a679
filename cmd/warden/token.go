package main

import (
	"fmt"

	"github.com/harunnryd/warden/internal/auth"
	"github.com/harunnryd/warden/internal/config"
	"github.com/harunnryd/warden/internal/security/rbac"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token [subject]",
	Short: "Issue an API bearer token signed with the configured JWT secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		valid := false
		for _, r := range rbac.DefaultRoles() {
			if r.Name == role {
				valid = true
			}
		}
		if !valid {
			return fmt.Errorf("unknown role: %s", role)
		}

		loaded, err := loadConfigForCommand(cmd)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		expiry, err := config.DurationOrDefault(loaded.Auth.TokenExpiry, config.DefaultAuthTokenExpiry)
		if err != nil {
			return err
		}
		svc, err := auth.NewService(auth.Options{Secret: loaded.Auth.JWTSecret, TokenExpiry: expiry})
		if err != nil {
			return err
		}
		token, err := svc.Issue(args[0], role)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("role", rbac.RoleEmployee, "role carried by the token")
	rootCmd.AddCommand(tokenCmd)
}

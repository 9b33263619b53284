package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dagbolade/munin-core/internal/auth"
	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenRoles   []string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the HTTP API (needs JWT_SECRET)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWTSecret == "" {
			return errors.New("JWT_SECRET must be set to mint tokens the server will accept")
		}
		if tokenSubject == "" {
			return errors.New("--subject is required")
		}

		manager := auth.NewManager(auth.Config{
			JWTSecret:       cfg.JWTSecret,
			TokenExpiration: tokenTTL,
		})
		token, err := manager.GenerateToken(auth.Principal{Subject: tokenSubject, Roles: tokenRoles})
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Token subject, e.g. a device name")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", []string{auth.RoleOperator, auth.RoleViewer}, "Granted roles")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
}

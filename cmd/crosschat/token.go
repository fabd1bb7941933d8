package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/memohai/crosschat/internal/auth"
)

func newTokenCmd(cfgPath *string) *cobra.Command {
	var (
		subject   string
		expiresIn time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin API token signed with server.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Server.JWTSecret) == "" {
				return fmt.Errorf("server.jwt_secret is not set")
			}
			if expiresIn <= 0 {
				expiresIn = cfg.Server.JWTExpiresInDuration()
			}
			token, expiresAt, err := auth.GenerateToken(subject, cfg.Server.JWTSecret, expiresIn)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "operator name recorded in the token")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "token lifetime (default server.jwt_expires_in)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/memohai/crosschat/internal/db"
	"github.com/memohai/crosschat/internal/logger"
)

func newMigrateCmd(cfgPath *string) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply correlation store schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return db.Migrate(ctx, logger.L, cfg.Store)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "give up after this long")
	return cmd
}

package main

import (
	"fmt"

	"dayong/internal/app"

	"github.com/spf13/cobra"
)

func newMigrateCmd(opt *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create the storage schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Migrate(cmd.Context(), opt.config)
		},
	}
}

func newCheckCmd(opt *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "validate the config file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.CheckConfig(cmd.Context(), opt.config)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d job(s)\n", len(cfg.Tasks.Jobs))
			return nil
		},
	}
}

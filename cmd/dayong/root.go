package main

import (
	"github.com/spf13/cobra"
)

type options struct {
	config string
}

func newRootCmd() *cobra.Command {
	var opt options
	cmd := &cobra.Command{
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Use:           "dayong",
		Short:         "dayong runs named delayed tasks and the jobs that schedule them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opt.config, "config", "c", "./dayong.yaml", "path to config file (json or yaml)")

	cmd.AddCommand(
		newServeCmd(&opt),
		newMigrateCmd(&opt),
		newCheckCmd(&opt),
		newVersionCmd(),
	)
	return cmd
}

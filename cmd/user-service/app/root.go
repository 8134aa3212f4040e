// Package app holds the user-service commands.
package app

import (
	"github.com/TKOaly/user-service-sub000/config"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	var envFiles []string

	root := &cobra.Command{
		Use:               "user-service",
		Short:             "Single sign-on identity provider",
		SilenceUsage:      true,
		DisableAutoGenTag: true,
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil,
		"dotenv files to load before reading the environment (default .env)")

	load := func() (*config.Config, error) {
		return config.Load(envFiles...)
	}

	root.AddCommand(
		newServeCmd(load),
		newRebuildCmd(load),
		newMigrateCmd(load),
	)
	return root
}

type configLoader func() (*config.Config, error)

// Package config implements the config command group.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chirpid/chirpid/internal/app"
	"github.com/chirpid/chirpid/internal/conf"
)

// Command creates the config command and its subcommands.
func Command(ctx *app.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	cmd.AddCommand(initCommand(ctx), validateCommand(ctx), pathsCommand())
	return cmd
}

func initCommand(ctx *app.Context) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config.yaml with default settings",
		Long: `Write the default settings to path, or to config.yaml in the user config
directory. Pass --backend-url to fill in the backend address.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ctx.ConfigFile
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				paths := conf.GetDefaultConfigPaths()
				path = filepath.Join(paths[len(paths)-1], "config.yaml")
			}

			settings, err := conf.DefaultSettings(viper.GetString("backend.url"))
			if err != nil {
				return err
			}
			if err := conf.SaveYAMLConfig(path, settings, force); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			if settings.Backend.URL == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Set backend.url before running other commands.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func validateCommand(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := conf.Load(ctx.ConfigFile)
			if err != nil {
				return err
			}

			used := conf.ConfigFileUsed()
			if used == "" {
				used = "(none, defaults and environment only)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config file: %s\n", used)
			fmt.Fprintf(cmd.OutOrStdout(), "Backend:     %s\n", settings.Backend.URL)
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
			return nil
		},
	}
}

func pathsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "List the directories searched for config.yaml",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, p := range conf.GetDefaultConfigPaths() {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
		},
	}
}

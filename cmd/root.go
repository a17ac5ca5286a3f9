package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chirpid/chirpid/cmd/config"
	"github.com/chirpid/chirpid/cmd/devices"
	"github.com/chirpid/chirpid/cmd/identify"
	"github.com/chirpid/chirpid/cmd/record"
	"github.com/chirpid/chirpid/cmd/session"
	"github.com/chirpid/chirpid/cmd/status"
	"github.com/chirpid/chirpid/cmd/wiki"
	"github.com/chirpid/chirpid/internal/app"
)

// RootCommand creates and returns the root command
func RootCommand(ctx *app.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "chirpid",
		Short:         "ChirpID bird sound identification client",
		Version:       ctx.Build.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, ctx); err != nil {
		// flag names are static; a bind failure is a programming error
		panic(err)
	}

	sessionCmd := session.Command(ctx)
	configCmd := config.Command(ctx)
	devicesCmd := devices.Command()

	rootCmd.AddCommand(
		identify.Command(ctx),
		record.Command(ctx),
		status.Command(ctx),
		wiki.Command(ctx),
		sessionCmd,
		configCmd,
		devicesCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// config and devices work without a usable configuration
		for c := cmd; c != nil; c = c.Parent() {
			if c == configCmd || c == devicesCmd {
				return nil
			}
		}
		return ctx.Initialize(cmd == sessionCmd, cmd.ErrOrStderr())
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface and
// binds them to their configuration keys.
func setupFlags(rootCmd *cobra.Command, ctx *app.Context) error {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&ctx.ConfigFile, "config", "c", "", "Path to config.yaml (default: ./ or ~/.config/chirpid)")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("backend-url", "", "Base URL of the identification backend")
	flags.Duration("backend-timeout", 0, "Upload request timeout")
	flags.String("log-file", "", "Path of the JSON log file")

	bindings := map[string]string{
		"debug":                    "debug",
		"backend.url":              "backend-url",
		"backend.timeout":          "backend-timeout",
		"logging.file_output.path": "log-file",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}

	return nil
}

// Package wiki implements the wiki command, a direct species lookup.
package wiki

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chirpid/chirpid/cmd/identify"
	"github.com/chirpid/chirpid/internal/app"
)

// Command creates the wiki command.
func Command(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "wiki [common-name] [scientific-name]",
		Short: "Look up species information on Wikipedia",
		Long: `Fetch the Wikipedia summary for a species. The common name is tried first,
then the scientific name, then the common name with " bird" appended.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := ctx.NewServices()
			if err != nil {
				return err
			}
			defer services.Close()

			common, scientific := args[0], ""
			if len(args) == 2 {
				scientific = args[1]
			}

			info, err := services.Wikipedia.Describe(cmd.Context(), common, scientific)
			if err != nil {
				return fmt.Errorf("no Wikipedia information for %q: %w", common, err)
			}

			identify.PrintInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}
}

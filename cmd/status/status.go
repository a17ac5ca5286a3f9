// Package status implements the status command.
package status

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chirpid/chirpid/internal/app"
	"github.com/chirpid/chirpid/internal/backendstatus"
)

// Command creates the status command, a one-shot backend reachability check.
func Command(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check whether the identification backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := ctx.NewServices()
			if err != nil {
				return err
			}
			defer services.Close()

			monitor := backendstatus.NewMonitor(services.Backend,
				backendstatus.WithMetrics(ctx.Metrics.Backend))
			st := monitor.Refresh(cmd.Context())

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Backend:  %s\n", services.Backend.BaseURL())
			if !st.IsOnline {
				fmt.Fprintf(w, "Status:   offline\n")
				return fmt.Errorf("backend unreachable: %s", st.Error)
			}
			fmt.Fprintf(w, "Status:   online\n")
			if st.LastChecked != nil {
				fmt.Fprintf(w, "Checked:  %s\n", st.LastChecked.Format(time.RFC3339))
			}
			return nil
		},
	}
}

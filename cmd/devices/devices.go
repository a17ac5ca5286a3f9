// Package devices implements the devices command.
package devices

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chirpid/chirpid/internal/myaudio"
)

// Command creates the devices command, which lists audio capture devices.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		Long:  `List the capture devices usable as recording.device in config.yaml.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := myaudio.ListCaptureDevices()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No capture devices found.")
				return nil
			}
			for i, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%d: %s\n", i, name)
			}
			return nil
		},
	}
}

// Package record implements the record command: capture from the microphone,
// then identify the recording.
package record

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chirpid/chirpid/cmd/identify"
	"github.com/chirpid/chirpid/internal/app"
	"github.com/chirpid/chirpid/internal/logger"
)

// Command creates the record command.
func Command(ctx *app.Context) *cobra.Command {
	var (
		opts     identify.Options
		duration time.Duration
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from the microphone and identify the bird",
		Long:  `Capture audio from the configured input device for the given duration, then upload it for identification.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := capture(cmd, ctx, duration)
			if err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintf(cmd.ErrOrStderr(), "Saved %s\n", path)
			}

			services, err := ctx.NewServices()
			if err != nil {
				return err
			}
			defer services.Close()

			return identify.Run(cmd.Context(), services, path, opts, cmd.OutOrStdout())
		},
	}

	identify.AddFlags(cmd, &opts)
	cmd.Flags().DurationVarP(&duration, "duration", "t", 10*time.Second, "Recording length (5s to 60s)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the recording path")
	return cmd
}

// capture records for duration, or until the command context is cancelled,
// and returns the WAV path.
func capture(cmd *cobra.Command, ctx *app.Context, duration time.Duration) (string, error) {
	if limit := ctx.Settings.Recording.MaxDuration; limit > 0 && duration > limit {
		duration = limit
	}

	rec := ctx.NewRecorder()
	if err := rec.Start(cmd.Context()); err != nil {
		return "", err
	}

	log := logger.Global().Module("record")
	log.Info("recording started", logger.Duration("duration", duration))
	fmt.Fprintf(cmd.ErrOrStderr(), "Recording for %s, press Ctrl+C to stop early...\n", duration)

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-cmd.Context().Done():
	}

	// an interrupted recording is still written out, but not uploaded
	path, err := rec.Stop()
	if err != nil {
		return "", err
	}
	log.Info("recording saved", logger.String("path", path))

	if err := context.Cause(cmd.Context()); err != nil {
		return "", fmt.Errorf("recording interrupted, saved %s: %w", path, err)
	}
	return path, nil
}

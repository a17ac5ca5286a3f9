// Package identify implements the identify command, which sends one audio
// file to the backend and prints the prediction.
package identify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chirpid/chirpid/internal/app"
	"github.com/chirpid/chirpid/internal/backend"
	"github.com/chirpid/chirpid/internal/errors"
	"github.com/chirpid/chirpid/internal/logger"
	"github.com/chirpid/chirpid/internal/wikipedia"
)

// Options control how a result is reported.
type Options struct {
	JSON   bool // print machine readable output
	NoWiki bool // skip the Wikipedia lookup
}

// Command creates the identify command.
func Command(ctx *app.Context) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "identify [audio-file]",
		Short: "Identify the bird in an audio file",
		Long:  `Upload a WAV recording (5 to 60 seconds) to the backend and print the identified species.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := ctx.NewServices()
			if err != nil {
				return err
			}
			defer services.Close()

			return Run(cmd.Context(), services, args[0], opts, cmd.OutOrStdout())
		},
	}

	AddFlags(cmd, &opts)
	return cmd
}

// AddFlags configures the flags shared by commands that report a result.
func AddFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the result as JSON")
	cmd.Flags().BoolVar(&opts.NoWiki, "no-wiki", false, "Skip the Wikipedia lookup")
}

// report is the JSON shape printed with --json.
type report struct {
	AudioPath string          `json:"audioPath"`
	Result    *backend.Result `json:"result"`
	Wikipedia *wikipedia.Info `json:"wikipedia,omitempty"`
}

// Run uploads path and writes the outcome to w. A backend response with
// success=false is returned as an error.
func Run(ctx context.Context, services *app.Services, path string, opts Options, w io.Writer) error {
	resp, err := services.Backend.Upload(ctx, path)
	if err != nil {
		return err
	}
	if !resp.Success || resp.Result == nil {
		msg := resp.Message
		if msg == "" {
			msg = "identification failed"
		}
		return errors.Newf("%s", msg).
			Component("identify").
			Category(errors.CategoryHTTP).
			Context("audio_path", path).
			Build()
	}

	var info *wikipedia.Info
	if !opts.NoWiki {
		info, err = services.Wikipedia.Describe(ctx, resp.Result.Species, resp.Result.ScientificName)
		if err != nil {
			logger.Global().Module("identify").Debug("no species information",
				logger.String("species", resp.Result.Species),
				logger.Error(err))
			info = nil
		}
	}

	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report{AudioPath: path, Result: resp.Result, Wikipedia: info})
	}

	PrintResult(w, resp.Result, info)
	return nil
}

// PrintResult writes a human readable result.
func PrintResult(w io.Writer, result *backend.Result, info *wikipedia.Info) {
	fmt.Fprintf(w, "Species:    %s\n", result.Species)
	if result.ScientificName != "" {
		fmt.Fprintf(w, "Scientific: %s\n", result.ScientificName)
	}
	fmt.Fprintf(w, "Confidence: %.1f%%\n", result.Confidence*100)

	if info != nil {
		fmt.Fprintln(w)
		PrintInfo(w, info)
	}
}

// PrintInfo writes a species summary.
func PrintInfo(w io.Writer, info *wikipedia.Info) {
	fmt.Fprintf(w, "%s\n", info.Title)
	if info.Description != "" {
		fmt.Fprintf(w, "%s\n", info.Description)
	}
	if info.ThumbnailURL != "" {
		fmt.Fprintf(w, "Image:      %s\n", info.ThumbnailURL)
		if info.Attribution != nil {
			fmt.Fprintf(w, "Image by:   %s\n", info.Attribution)
		}
	}
	if info.PageURL != "" {
		fmt.Fprintf(w, "Read more:  %s\n", info.PageURL)
	}
}

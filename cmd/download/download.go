package download

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	dl "github.com/tphakala/nutrigraph/internal/download"
	"github.com/tphakala/nutrigraph/internal/runtime"
)

// Command creates the download command, which fetches the raw datasets.
func Command(ctx *runtime.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Fetch the raw USDA and OpenFoodFacts datasets",
		Long: "Download the USDA Foundation and SR Legacy archives and the OpenFoodFacts export " +
			"into the raw data directory. Interrupted transfers resume, files already present are skipped.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := ctx.Settings
			d := dl.New(ctx.HTTPClient(), dl.Options{
				Timeout: settings.Download.Timeout,
				Metrics: ctx.Metrics.Pipeline,
				Logger:  ctx.Logger("download"),
			})

			results, err := d.Run(cmd.Context(), dl.Plan(settings))
			out := cmd.OutOrStdout()
			for _, res := range results {
				switch {
				case res.Skipped:
					fmt.Fprintf(out, "%-14s already present  %s\n", res.Item.Source, res.Item.Dest)
				case res.Resumed:
					fmt.Fprintf(out, "%-14s resumed          %s (%d bytes)\n", res.Item.Source, res.Item.Dest, res.Bytes)
				default:
					fmt.Fprintf(out, "%-14s downloaded       %s (%d bytes)\n", res.Item.Source, res.Item.Dest, res.Bytes)
				}
			}
			return err
		},
	}

	if err := setupFlags(cmd); err != nil {
		panic(err)
	}

	return cmd
}

// setupFlags configures flags specific to the download command.
func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().Duration("timeout", time.Duration(0), "Per-file download timeout, 0 for none")

	if err := viper.BindPFlag("download.timeout", cmd.Flags().Lookup("timeout")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

package clean

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/nutrigraph/internal/pipeline"
	"github.com/tphakala/nutrigraph/internal/runtime"
)

// Command creates the clean command, which builds the canonical catalog.
func Command(ctx *runtime.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Parse, normalize and deduplicate the raw datasets into the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.OpenStore()
			if err != nil {
				return err
			}
			defer store.Close()

			cleaner := pipeline.NewCleaner(ctx.Settings, store, ctx.Metrics.Pipeline, ctx.Logger("pipeline"))
			report, err := cleaner.Run(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, stats := range report.Sources {
				fmt.Fprintf(out, "%-14s accepted %7d  skipped %7d", stats.Source, stats.Accepted, stats.SkippedTotal())
				if reasons := stats.Reasons(); len(reasons) > 0 {
					parts := make([]string, len(reasons))
					for i, r := range reasons {
						parts[i] = fmt.Sprintf("%s=%d", r, stats.Skipped[r])
					}
					fmt.Fprintf(out, "  (%s)", strings.Join(parts, ", "))
				}
				fmt.Fprintln(out)
			}
			for _, source := range report.Failed {
				fmt.Fprintf(out, "%-14s FAILED, see log\n", source)
			}
			fmt.Fprintf(out, "catalog: %d rows, %d duplicates merged, csv %s\n", report.Rows, report.Duplicates, report.CSVPath)
			return nil
		},
	}

	return cmd
}

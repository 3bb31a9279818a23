package query

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/nutrigraph/internal/retrieval"
	"github.com/tphakala/nutrigraph/internal/runtime"
)

// Command creates the query command, a one-off retrieval from the index.
func Command(ctx *runtime.Context) *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:     "query <text>",
		Short:   "Retrieve the closest ingredients for a text",
		Example: `  nutrigraph query "corn tortillas" -k 3`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			embedder, err := ctx.QueryEmbedder()
			if err != nil {
				return err
			}

			idx, err := ctx.OpenIndex(true, embedder.Name())
			if err != nil {
				return err
			}
			defer idx.Close()

			svc := ctx.RetrievalService(embedder, idx)
			matches, err := svc.Retrieve(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			return PrintMatches(cmd.OutOrStdout(), matches)
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of results, 0 for the configured default")

	return cmd
}

// PrintMatches writes matches as an aligned table
func PrintMatches(w io.Writer, matches []retrieval.Match) error {
	if len(matches) == 0 {
		_, err := fmt.Fprintln(w, "no matches")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tSOURCE\tKCAL\tPROTEIN_G\tCARBS_G\tFAT_G\tSIMILARITY")
	for i := range matches {
		m := &matches[i]
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%.4f\n",
			i+1, m.Name, m.Source,
			nutrient(m.EnergyKcal), nutrient(m.ProteinG), nutrient(m.CarbohydratesG), nutrient(m.FatG),
			m.Similarity)
	}
	return tw.Flush()
}

func nutrient(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64)
}

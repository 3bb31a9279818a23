package index

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/nutrigraph/internal/pipeline"
	"github.com/tphakala/nutrigraph/internal/runtime"
)

// Command creates the index command, which embeds the working set into the
// vector index.
func Command(ctx *runtime.Context) *cobra.Command {
	var recreate bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Select the working set, embed it and build the vector index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.OpenStore()
			if err != nil {
				return err
			}
			defer store.Close()

			embedder, err := ctx.IndexEmbedder()
			if err != nil {
				return err
			}

			idx, err := ctx.OpenIndex(false, embedder.Name())
			if err != nil {
				return err
			}
			defer idx.Close()

			indexer := pipeline.NewIndexer(store, embedder, idx, ctx.Metrics.Pipeline, ctx.Logger("pipeline"))
			report, err := indexer.Run(cmd.Context(), pipeline.IndexOptions{
				TopN:     ctx.Settings.Index.TopN,
				Recreate: recreate,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d of %d selected ingredients with %s into %s (collection %s, %d entries)\n",
				report.Entries, report.Selected, report.Embedder, idx.Path(), idx.Collection(), idx.Count())
			return nil
		},
	}

	if err := setupFlags(cmd, &recreate); err != nil {
		panic(err)
	}

	return cmd
}

// setupFlags configures flags specific to the index command.
func setupFlags(cmd *cobra.Command, recreate *bool) error {
	cmd.Flags().IntP("topn", "n", 1000, "Number of top-ranked ingredients to index")
	cmd.Flags().BoolVar(recreate, "recreate", false, "Drop the collection and rebuild it instead of upserting")

	if err := viper.BindPFlag("index.topn", cmd.Flags().Lookup("topn")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

package serve

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/nutrigraph/internal/api"
	"github.com/tphakala/nutrigraph/internal/runtime"
)

// Command creates the serve command, which runs the HTTP retrieval API
// until interrupted.
func Command(ctx *runtime.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the retrieval API over HTTP",
		Args:  cobra.NoArgs,
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

			server, err := api.New(ctx.Settings,
				api.WithLogger(ctx.Logger("api")),
				api.WithRetriever(ctx.RetrievalService(embedder, idx)),
				api.WithIndex(idx),
				api.WithMetrics(ctx.Metrics),
				api.WithBuildInfo(ctx.Build),
			)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "serving %d indexed ingredients on %s\n", idx.Count(), ctx.Settings.Server.Listen)
			return server.Run(cmd.Context())
		},
	}

	if err := setupFlags(cmd); err != nil {
		panic(err)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("listen", ":8000", "Listen address and port of the HTTP API")

	if err := viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/nutrigraph/cmd/clean"
	"github.com/tphakala/nutrigraph/cmd/download"
	"github.com/tphakala/nutrigraph/cmd/index"
	"github.com/tphakala/nutrigraph/cmd/query"
	"github.com/tphakala/nutrigraph/cmd/serve"
	"github.com/tphakala/nutrigraph/internal/conf"
	"github.com/tphakala/nutrigraph/internal/errors"
	"github.com/tphakala/nutrigraph/internal/logger"
	"github.com/tphakala/nutrigraph/internal/observability"
	"github.com/tphakala/nutrigraph/internal/runtime"
	"github.com/tphakala/nutrigraph/internal/telemetry"
)

// Exit codes returned by ExitCode
const (
	ExitOK               = 0
	ExitFailure          = 1
	ExitConfiguration    = 2
	ExitIndexUnavailable = 3
	ExitEmbeddingFailure = 4
	ExitSourceFormat     = 5
)

// RootCommand creates and returns the root command
func RootCommand(ctx *runtime.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "nutrigraph",
		Short:         "NutriGraph ingredient pipeline and retrieval service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, ctx); err != nil {
		panic(err)
	}

	subcommands := []*cobra.Command{
		download.Command(ctx),
		clean.Command(ctx),
		index.Command(ctx),
		query.Command(ctx),
		serve.Command(ctx),
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(ctx)
	}

	return rootCmd
}

// initialize loads the configuration and sets up logging, metrics and
// telemetry before any subcommand runs. Flags have been parsed by now, so
// viper already holds their values.
func initialize(ctx *runtime.Context) error {
	settings, err := conf.Load(ctx.ConfigFile)
	if err != nil {
		return err
	}
	*ctx.Settings = *settings

	// command-line arguments take precedence over the file
	conf.SyncViper(ctx.Settings)

	central, err := logger.NewCentralLogger(&ctx.Settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	m, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	m.CountErrors()
	ctx.Metrics = m

	return telemetry.Init(telemetry.OptionsFromSettings(ctx.Settings, ctx.Build), logger.Global().Module("telemetry"))
}

// Shutdown flushes telemetry and log files and releases shared clients.
// It is safe to call when initialize never ran.
func Shutdown(ctx *runtime.Context) {
	telemetry.Flush(telemetry.DefaultFlushTimeout)
	ctx.Close()
	errors.ClearErrorHooks()
	if err := logger.Global().Close(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing log files: %v\n", err)
	}
}

// ExitCode maps a command error to the process exit status
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.IsIndexUnavailable(err):
		return ExitIndexUnavailable
	case errors.IsEmbeddingFailure(err):
		return ExitEmbeddingFailure
	case errors.IsSourceFormat(err):
		return ExitSourceFormat
	case errors.IsCategory(err, errors.CategoryConfiguration), errors.IsCategory(err, errors.CategoryValidation):
		return ExitConfiguration
	default:
		return ExitFailure
	}
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, ctx *runtime.Context) error {
	rootCmd.PersistentFlags().StringVar(&ctx.ConfigFile, "config", "", "Path to the config file (default: search ., ~/.config/nutrigraph, /etc/nutrigraph)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/nutrigraph/cmd"
	"github.com/tphakala/nutrigraph/internal/buildinfo"
	"github.com/tphakala/nutrigraph/internal/runtime"
)

// Set at build time with
// -ldflags "-X main.version=v0.3.0 -X main.buildDate=2026-10-01"
var (
	version   = "dev"
	buildDate = buildinfo.UnknownValue
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCtx := runtime.NewContext(buildinfo.NewContext(version, buildDate))
	defer cmd.Shutdown(appCtx)

	rootCmd := cmd.RootCommand(appCtx)
	rootCmd.Version = version

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return cmd.ExitCode(err)
}

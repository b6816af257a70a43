// Package main is the entry point for contentmind.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"contentmind/bootstrap"
	"contentmind/cmd"
	"contentmind/config"
	"contentmind/core"
)

// run dispatches CLI subcommands or serves until ctx is cancelled or a
// shutdown signal arrives. It returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	// Check if running as CLI command
	if len(args) > 0 && cmd.IsCommand(args[0]) {
		return cmd.Execute(args, stdout, stderr)
	}

	// Otherwise run as normal server
	app, err := bootstrap.Start(ctx, args, bootstrap.WithStderr(stderr))
	if errors.Is(err, config.ErrHelp) {
		return cmd.Execute([]string{"--help"}, stdout, stderr)
	}
	if app != nil {
		defer func() {
			if err := app.Shutdown(context.Background()); err != nil {
				fmt.Fprintf(stderr, "Error during shutdown: %v\n", err)
			}
		}()
	}
	if err != nil {
		return core.ExitCode(err)
	}

	// Wait for shutdown signal
	if err := app.WaitForShutdown(ctx); err != nil {
		app.Sugar.Errorw("Server stopped unexpectedly", "error", err)
		return core.ExitStartupFailure
	}
	return core.ExitOK
}

// main is the entry point.
func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// Package bootstrap is the composition root. It turns configuration into a
// frozen capability set, activates each enabled capability in a fixed
// order, builds request-handling components and only then starts serving.
//
// Usage:
//
//	app, err := bootstrap.Start(ctx, os.Args[1:])
//	if app != nil {
//	    defer app.Shutdown(context.Background())
//	}
//	if err != nil {
//	    os.Exit(core.ExitCode(err))
//	}
//
//	// Wait for shutdown signal
//	_ = app.WaitForShutdown(ctx)
package bootstrap

package cmd

import (
	"context"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"contentmind/bootstrap"
	"contentmind/core"
)

// checkResult is the JSON shape of one probed capability.
type checkResult struct {
	Capability string `json:"capability"`
	OK         bool   `json:"ok"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type checkView struct {
	OK          bool          `json:"ok"`
	Results     []checkResult `json:"results"`
	Remediation string        `json:"remediation,omitempty"`
}

// newCheckCmd creates the 'check' subcommand
func newCheckCmd(opts *rootOptions) *cobra.Command {
	var (
		timeout time.Duration
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify every enabled capability can activate",
		Long: `Activate every enabled capability against the configured backends, report
the result per capability and deactivate again. No listener is bound.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			logger := zap.NewNop().Sugar()
			appOpts := []bootstrap.Option{bootstrap.WithStderr(cmd.ErrOrStderr())}
			if !verbose {
				appOpts = append(appOpts, bootstrap.WithLogger(logger))
			}

			app, err := bootstrap.NewApp(ctx, opts.configArgs(), appOpts...)
			if err != nil {
				return err
			}
			defer func() { _ = app.Shutdown(context.Background()) }()

			if !opts.quiet && !opts.outputJSON {
				infoColor.Fprintf(cmd.OutOrStdout(), "Checking capabilities: %s\n", app.Capabilities())
			}

			// Show progress spinner
			var s *spinner.Spinner
			if !opts.outputJSON && !opts.quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
				s.Suffix = " Activating capabilities..."
				s.Start()
			}

			reports, probeErr := app.Probe(ctx)

			if s != nil {
				s.Stop()
			}

			view := checkView{OK: probeErr == nil, Results: []checkResult{}}
			for _, r := range reports {
				res := checkResult{
					Capability: string(r.Capability),
					OK:         r.Succeeded(),
					DurationMS: r.Duration().Milliseconds(),
				}
				if r.Err != nil {
					res.Error = r.Err.Error()
				}
				view.Results = append(view.Results, res)
			}
			if probeErr != nil {
				view.Remediation = bootstrap.Remediation(probeErr, app.Config)
			}

			if opts.outputJSON {
				if err := outputAsJSON(cmd.OutOrStdout(), view); err != nil {
					return err
				}
			} else {
				renderCheckResult(cmd.OutOrStdout(), view, skipped(app.Capabilities(), reports))
			}
			return probeErr
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Overall time limit for the check")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show application logs")

	return cmd
}

// skipped lists enabled capabilities that never ran because an earlier one
// failed.
func skipped(caps core.CapabilitySet, reports []core.ActivationReport) []string {
	ran := make(map[core.Capability]bool, len(reports))
	for _, r := range reports {
		ran[r.Capability] = true
	}
	var out []string
	for _, c := range caps.List() {
		if !ran[c] {
			out = append(out, string(c))
		}
	}
	return out
}

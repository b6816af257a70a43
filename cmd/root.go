// Package cmd provides the contentmind command-line interface.
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"contentmind/core"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Build information, set with -ldflags "-X contentmind/cmd.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configFile string
	profile    string
	outputJSON bool
	noColor    bool
	quiet      bool
}

// configArgs turns the CLI flags into arguments for config.Load.
func (o *rootOptions) configArgs() []string {
	var args []string
	if o.configFile != "" {
		args = append(args, "--config", o.configFile)
	}
	if o.profile != "" {
		args = append(args, "--profile", o.profile)
	}
	return args
}

// usageError marks invalid invocations so they exit with core.ExitUsage.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// NewRootCmd creates the contentmind command with all subcommands.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "contentmind",
		Short: "contentmind content platform",
		Long: `contentmind serves the content platform. Run without a subcommand to start
the server; the subcommands below inspect and verify its configuration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Config file path")
	root.PersistentFlags().StringVar(&opts.profile, "profile", "", "Configuration profile overlay")
	root.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "Output in JSON format")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().BoolVar(&opts.quiet, "quiet", false, "Suppress non-essential output")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	root.AddCommand(newCapabilitiesCmd(opts))
	root.AddCommand(newCheckCmd(opts))
	root.AddCommand(newVersionCmd(opts))

	return root
}

// IsCommand reports whether arg names a CLI subcommand rather than a
// server argument.
func IsCommand(arg string) bool {
	switch arg {
	case "help", "-h", "--help", "completion":
		return true
	}
	for _, c := range NewRootCmd().Commands() {
		if c.Name() == arg || c.HasAlias(arg) {
			return true
		}
	}
	return false
}

// Execute runs the CLI with args and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return core.ExitOK
	}

	errorColor.Fprintf(stderr, "Error: %v\n", err)

	var usage *usageError
	if errors.As(err, &usage) {
		return core.ExitUsage
	}
	return core.ExitCode(err)
}

func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

package cmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"contentmind/config"
	"contentmind/core"
)

// capabilityRow is one line of the capabilities listing.
type capabilityRow struct {
	Order      int    `json:"order" yaml:"order"`
	Capability string `json:"capability" yaml:"capability"`
	Key        string `json:"key" yaml:"key"`
	Enabled    bool   `json:"enabled" yaml:"enabled"`
}

type capabilitiesView struct {
	ConfigFile      string          `json:"config_file,omitempty" yaml:"config_file,omitempty"`
	Profile         string          `json:"profile,omitempty" yaml:"profile,omitempty"`
	Capabilities    []capabilityRow `json:"capabilities" yaml:"capabilities"`
	ActivationOrder []string        `json:"activation_order" yaml:"activation_order"`
}

func buildCapabilitiesView(cfg *config.Config) capabilitiesView {
	set := cfg.Capabilities.Set()
	view := capabilitiesView{
		ConfigFile:      cfg.File,
		Profile:         cfg.Profile,
		ActivationOrder: []string{},
	}
	for i, c := range core.ActivationOrder() {
		view.Capabilities = append(view.Capabilities, capabilityRow{
			Order:      i + 1,
			Capability: string(c),
			Key:        c.Key(),
			Enabled:    set.Enabled(c),
		})
	}
	for _, c := range set.List() {
		view.ActivationOrder = append(view.ActivationOrder, string(c))
	}
	return view
}

// newCapabilitiesCmd creates the 'capabilities' subcommand
func newCapabilitiesCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "capabilities",
		Aliases: []string{"caps"},
		Short:   "Show the resolved capability set",
		Long: `Show which capabilities the current configuration enables and the order
they are activated in. Nothing is activated and no backend is contacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.outputJSON {
				output = "json"
			}
			switch output {
			case "table", "json", "yaml":
			default:
				return usageErrorf("invalid --output %q (expected table, json or yaml)", output)
			}

			cfg, err := config.Load(opts.configArgs())
			if err != nil {
				return core.NewStartupError("", core.StageConfig, err)
			}
			view := buildCapabilitiesView(cfg)

			w := cmd.OutOrStdout()
			switch output {
			case "json":
				return outputAsJSON(w, view)
			case "yaml":
				encoder := yaml.NewEncoder(w)
				encoder.SetIndent(2)
				if err := encoder.Encode(view); err != nil {
					return err
				}
				return encoder.Close()
			default:
				renderCapabilitiesTable(w, view)
				return nil
			}
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json, yaml")

	return cmd
}

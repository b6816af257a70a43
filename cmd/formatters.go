package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// renderCapabilitiesTable displays the capability set in a formatted table
func renderCapabilitiesTable(w io.Writer, view capabilitiesView) {
	headerColor.Fprintln(w, "CAPABILITIES")
	headerColor.Fprintln(w, strings.Repeat("=", 64))
	if view.ConfigFile != "" {
		printField(w, "Config", view.ConfigFile)
	} else {
		printField(w, "Config", "(defaults and environment)")
	}
	if view.Profile != "" {
		printField(w, "Profile", view.Profile)
	}
	fmt.Fprintln(w, strings.Repeat("-", 64))
	fmt.Fprintf(w, "%-6s %-24s %-24s %-8s\n", "Order", "Capability", "Key", "Enabled")
	fmt.Fprintln(w, strings.Repeat("-", 64))

	for _, row := range view.Capabilities {
		fmt.Fprintf(w, "%-6d %-24s %-24s %s\n", row.Order, row.Capability, row.Key, formatBool(row.Enabled))
	}

	fmt.Fprintln(w, strings.Repeat("=", 64))
	if len(view.ActivationOrder) == 0 {
		warningColor.Fprintln(w, "No capabilities enabled")
		return
	}
	printField(w, "Activation order", strings.Join(view.ActivationOrder, " -> "))
}

// renderCheckResult displays per-capability probe results
func renderCheckResult(w io.Writer, view checkView, skipped []string) {
	headerColor.Fprintln(w, "CHECK")
	headerColor.Fprintln(w, strings.Repeat("=", 64))

	for _, r := range view.Results {
		if r.OK {
			successColor.Fprintf(w, "  ✓ %-24s", r.Capability)
			fmt.Fprintf(w, " %dms\n", r.DurationMS)
			continue
		}
		errorColor.Fprintf(w, "  ✗ %-24s", r.Capability)
		fmt.Fprintf(w, " %s\n", r.Error)
	}
	for _, name := range skipped {
		warningColor.Fprintf(w, "  - %-24s skipped\n", name)
	}
	if len(view.Results) == 0 && len(skipped) == 0 {
		warningColor.Fprintln(w, "  No capabilities enabled")
	}

	headerColor.Fprintln(w, strings.Repeat("=", 64))
	if view.OK {
		successColor.Fprintln(w, "All enabled capabilities activated successfully")
		return
	}
	errorColor.Fprintln(w, "Capability check failed")
	if view.Remediation != "" {
		fmt.Fprintln(w, view.Remediation)
	}
}

// printField prints a key-value field
func printField(w io.Writer, key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Fprintf(w, "  %-20s %s\n", key+":", value)
}

// formatBool returns a colored boolean string
func formatBool(b bool) string {
	if b {
		return color.New(color.FgGreen).Sprint("Yes")
	}
	return color.New(color.FgRed).Sprint("No")
}

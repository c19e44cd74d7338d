package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// OutputFormat is the requested rendering for list-style commands.
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatWide  OutputFormat = "wide"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

// Valid reports whether f is one of the supported output formats.
func (f OutputFormat) Valid() bool {
	switch f {
	case OutputFormatTable, OutputFormatWide, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// CommandFlags holds the common flag values used across CLI commands that
// talk to a prevant server.
type CommandFlags struct {
	// OutputFormat specifies the desired output format (table, wide, json, yaml).
	OutputFormat string
	// NoHeaders suppresses the header row in table output.
	NoHeaders bool
	// Quiet suppresses progress indicators and non-essential output.
	Quiet bool
	// Debug enables verbose logging of HTTP requests against the server.
	Debug bool
	// Endpoint overrides the server's base URL (env: PREVANT_SERVER).
	Endpoint string
}

// RegisterCommonFlags registers the common flags used by most CLI commands
// that connect to a prevant server: --output/-o, --no-headers, --quiet/-q,
// --debug, and --server.
func RegisterCommonFlags(cmd *cobra.Command, flags *CommandFlags) {
	cmd.PersistentFlags().StringVarP(&flags.OutputFormat, "output", "o", "table", "Output format (table, wide, json, yaml)")
	cmd.PersistentFlags().BoolVar(&flags.NoHeaders, "no-headers", false, "Suppress header row in table output")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	cmd.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "Enable debug logging of HTTP requests")
	cmd.PersistentFlags().StringVar(&flags.Endpoint, "server", GetDefaultEndpoint(), "prevant server base URL (env: PREVANT_SERVER)")
}

// RegisterConnectionFlags registers only the --server flag, for commands
// that don't produce formatted output but still need to reach a server.
func RegisterConnectionFlags(cmd *cobra.Command, flags *CommandFlags) {
	cmd.PersistentFlags().StringVar(&flags.Endpoint, "server", GetDefaultEndpoint(), "prevant server base URL (env: PREVANT_SERVER)")
}

// Validate checks that OutputFormat names a supported format.
func (f *CommandFlags) Validate() error {
	format := OutputFormat(f.OutputFormat)
	if !format.Valid() {
		return fmt.Errorf("unsupported output format %q (want table, wide, json, or yaml)", f.OutputFormat)
	}
	return nil
}

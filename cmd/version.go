package cmd

import (
	"fmt"
	"net/http"
	"time"

	"prevant/internal/cli"

	"github.com/spf13/cobra"
)

// versionCheckTimeout is the timeout for probing a running server.
const versionCheckTimeout = 5 * time.Second

// newVersionCmd creates the Cobra command for displaying the CLI version
// and, if a prevant server is reachable, its connectivity status.
func newVersionCmd() *cobra.Command {
	var endpoint string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number of the prevant CLI and check server connectivity",
		Long: `Print the version number of the prevant CLI.

All software has versions. This one also tries to reach the
configured prevant server (--server, or PREVANT_SERVER) and reports
whether it is currently reachable.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "prevant version %s\n", rootCmd.Version)

			if err := checkServer(endpoint); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "\nServer: (not reachable at %s)\n", endpoint)
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nServer: reachable at %s\n", endpoint)
		},
	}

	cmd.Flags().StringVar(&endpoint, "server", cli.GetDefaultEndpoint(), "prevant server base URL (env: PREVANT_SERVER)")
	return cmd
}

// checkServer probes endpoint's apps listing with a short timeout, used to
// report whether a server is up without requiring any other subcommand.
func checkServer(endpoint string) error {
	client := &http.Client{Timeout: versionCheckTimeout}
	resp, err := client.Get(endpoint + "/apps/")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

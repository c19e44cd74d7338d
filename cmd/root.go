package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments,
	// or the prevant server could not be reached).
	ExitCodeError = 1
)

// rootCmd represents the base command for the prevant CLI.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "prevant",
	Short: "Operate a prevant server and its deployed applications",
	Long: `prevant starts and operates the prevant server: a control plane that
deploys application reviews onto Docker or Kubernetes and exposes them
through a reverse proxy, and inspects apps and tasks on a running server.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// It initializes and executes the root command, which in turn handles subcommands and flags.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "prevant version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

// init adds every subcommand to the root command.
func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}

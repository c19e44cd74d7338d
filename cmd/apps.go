package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"prevant/internal/cli"
	"prevant/internal/domain"

	"github.com/spf13/cobra"
)

var appsFlags cli.CommandFlags

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Inspect and manage applications deployed on a prevant server",
}

var appsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every application and its services",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := cli.NewClient(appsFlags.Endpoint)
		apps, err := client.ListApps(cmd.Context())
		if err != nil {
			return err
		}
		cli.RenderApps(cmd.OutOrStdout(), apps, appsFlags.NoHeaders)
		return nil
	},
}

var appsGetCmd = &cobra.Command{
	Use:   "get <app-name>",
	Short: "Show one application's services in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := cli.NewClient(appsFlags.Endpoint)
		app, err := client.GetApp(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		cli.RenderApp(cmd.OutOrStdout(), app)
		return nil
	},
}

var appsDeployFile string
var appsDeployAsync bool

var appsDeployCmd = &cobra.Command{
	Use:   "deploy <app-name>",
	Short: "Create or update an application from a service-config file",
	Long: `Reads a JSON array of service configs from --file and submits it
as a create/update request for <app-name>. With --async, the server is
asked to queue the work and respond immediately with a status-change
location instead of waiting for the result.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(appsDeployFile)
		if err != nil {
			return fmt.Errorf("read service config file: %w", err)
		}
		var configs []domain.ServiceConfig
		if err := json.Unmarshal(raw, &configs); err != nil {
			return fmt.Errorf("parse service config file: %w", err)
		}

		client := cli.NewClient(appsFlags.Endpoint)
		result, err := client.CreateOrUpdate(cmd.Context(), args[0], configs, appsDeployAsync)
		if err != nil {
			return err
		}
		return printDeployResult(cmd, result)
	},
}

var appsDeleteAsync bool

var appsDeleteCmd = &cobra.Command{
	Use:   "delete <app-name>",
	Short: "Delete an application and tear down its services",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := cli.NewClient(appsFlags.Endpoint)
		result, err := client.DeleteApp(cmd.Context(), args[0], appsDeleteAsync)
		if err != nil {
			return err
		}
		return printDeployResult(cmd, result)
	},
}

func printDeployResult(cmd *cobra.Command, result cli.DeployResult) error {
	if result.StatusURL != "" {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("queued: "+result.StatusURL))
		fmt.Fprintln(cmd.OutOrStdout(), "Check progress with: prevant tasks watch "+result.StatusURL)
		return nil
	}
	for _, svc := range result.Services {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", svc.Name, svc.State)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(appsCmd)
	appsCmd.AddCommand(appsListCmd)
	appsCmd.AddCommand(appsGetCmd)
	appsCmd.AddCommand(appsDeployCmd)
	appsCmd.AddCommand(appsDeleteCmd)

	cli.RegisterCommonFlags(appsCmd, &appsFlags)

	appsDeployCmd.Flags().StringVar(&appsDeployFile, "file", "", "path to a JSON service-config array (required)")
	appsDeployCmd.MarkFlagRequired("file")
	appsDeployCmd.Flags().BoolVar(&appsDeployAsync, "async", false, "queue the deploy and return immediately")

	appsDeleteCmd.Flags().BoolVar(&appsDeleteAsync, "async", false, "queue the delete and return immediately")
}

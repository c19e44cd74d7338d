package cmd

import (
	"fmt"
	"time"

	"prevant/internal/cli"

	"github.com/spf13/cobra"
)

var tasksFlags cli.CommandFlags
var tasksWatchInterval time.Duration

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Follow the progress of queued create/update/delete/restore tasks",
}

var tasksWatchCmd = &cobra.Command{
	Use:   "watch <status-change-url>",
	Short: "Poll a status-change location until it resolves",
	Long: `Repeatedly polls the status-change location printed by "apps
deploy --async" or "apps delete --async" (e.g.
/apps/shop/status-changes/<id>) until the server reports the task as
ready or failed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := cli.NewClient(tasksFlags.Endpoint)
		ticker := time.NewTicker(tasksWatchInterval)
		defer ticker.Stop()

		for {
			status, err := client.PollStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			switch status.State {
			case "pending":
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning("pending"))
			case "ready":
				for _, svc := range status.Services {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", svc.Name, svc.State)
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("done"))
				return nil
			case "failed":
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatError(status.Err))
				return status.Err
			}

			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-ticker.C:
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksWatchCmd)

	cli.RegisterCommonFlags(tasksCmd, &tasksFlags)
	tasksWatchCmd.Flags().DurationVar(&tasksWatchInterval, "interval", time.Second, "polling interval")
}

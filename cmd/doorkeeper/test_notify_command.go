package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"doorkeeper/internal/ipc"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through every enabled channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(resp.Results) == 0 {
					fmt.Fprintln(out, "No notification channels enabled")
					return nil
				}
				rows := make([][]string, 0, len(resp.Results))
				failed := 0
				for _, res := range resp.Results {
					if res.Error != "" {
						failed++
					}
					rows = append(rows, []string{res.Channel, res.Outcome, res.Error})
				}
				fmt.Fprint(out, renderTable([]column{{header: "Channel"}, {header: "Outcome"}, {header: "Error"}}, rows))
				if failed > 0 {
					return fmt.Errorf("%d of %d channels failed", failed, len(resp.Results))
				}
				return nil
			})
		},
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"doorkeeper/internal/ipc"
)

func newVideoCommand(ctx *commandContext) *cobra.Command {
	videoCmd := &cobra.Command{
		Use:   "video",
		Short: "Control the capture session",
	}

	control := func(use, short string, op func(*ipc.Client) (*ipc.VideoResponse, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return ctx.withClient(func(client *ipc.Client) error {
					resp, err := op(client)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
					return nil
				})
			},
		}
	}

	videoCmd.AddCommand(control("start", "Start capturing frames", (*ipc.Client).VideoStart))
	videoCmd.AddCommand(control("stop", "Stop capturing frames", (*ipc.Client).VideoStop))
	videoCmd.AddCommand(control("toggle", "Start or stop capture", (*ipc.Client).VideoToggle))

	var output string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the capture session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				if done, err := writeStructured(cmd, output, status.Video); done {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), status.Video.VideoStatus)
				return nil
			})
		},
	}
	addOutputFlag(statusCmd, &output)
	videoCmd.AddCommand(statusCmd)

	return videoCmd
}

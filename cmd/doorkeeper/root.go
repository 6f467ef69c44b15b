package main

import (
	"github.com/spf13/cobra"
)

const (
	groupDaemon = "daemon"
	groupAccess = "access"
)

func newRootCommand() *cobra.Command {
	var socketFlag string
	var configFlag string

	ctx := newCommandContext(&socketFlag, &configFlag)

	rootCmd := &cobra.Command{
		Use:           "doorkeeper",
		Short:         "Camera-driven door access control",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "Path to the doorkeeper daemon socket")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupDaemon, Title: "Daemon:"},
		&cobra.Group{ID: groupAccess, Title: "Access control:"},
	)
	for _, sub := range []struct {
		group string
		cmd   *cobra.Command
	}{
		{groupDaemon, newRunCommand(ctx)},
		{groupDaemon, newStatusCommand(ctx)},
		{groupDaemon, newVideoCommand(ctx)},
		{groupDaemon, newConfigCommand(ctx)},
		{groupAccess, newIdentityCommand(ctx)},
		{groupAccess, newSampleCommand(ctx)},
		{groupAccess, newTestNotifyCommand(ctx)},
	} {
		sub.cmd.GroupID = sub.group
		rootCmd.AddCommand(sub.cmd)
	}

	return rootCmd
}

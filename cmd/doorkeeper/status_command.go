package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"doorkeeper/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and capture status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				if done, err := writeStructured(cmd, output, status); done {
					return err
				}
				renderStatus(cmd.OutOrStdout(), status, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}

func renderStatus(out io.Writer, status *ipc.StatusResponse, colorize bool) {
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	daemonKind := statusError
	if status.Running {
		daemonKind = statusOK
	}
	fmt.Fprintln(out, renderStatusLine("Running", daemonKind, fmt.Sprintf("%s (pid %d)", yesNo(status.Running), status.PID), colorize))
	apiDetail := status.APIAddress
	apiKind := statusInfo
	if apiDetail == "" {
		apiDetail = "disabled"
		apiKind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("HTTP API", apiKind, apiDetail, colorize))
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	fmt.Fprintln(out, renderStatusLine("Runtime config", statusInfo, status.RuntimeConfigPath, colorize))
	fmt.Fprintln(out, renderStatusLine("Lock file", statusInfo, status.LockPath, colorize))
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Capture", colorize) {
		fmt.Fprintln(out, line)
	}
	video := status.Video
	captureKind := statusWarn
	if video.VideoStatus == "Running" {
		captureKind = statusOK
	}
	fmt.Fprintln(out, renderStatusLine("Video", captureKind, video.VideoStatus, colorize))
	if video.SessionID != "" {
		fmt.Fprintln(out, renderStatusLine("Session", statusInfo, video.SessionID+" since "+video.StartedAt, colorize))
	}
	errKind := statusOK
	if video.FrameErrors > 0 {
		errKind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Frames", statusInfo, strconv.FormatUint(video.FramesProcessed, 10), colorize))
	fmt.Fprintln(out, renderStatusLine("Frame errors", errKind, strconv.FormatUint(video.FrameErrors, 10), colorize))
	if video.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusError, video.LastError, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Door busy", statusInfo, yesNo(video.DoorBusy), colorize))
	fmt.Fprintln(out, renderStatusLine("Cached users", statusInfo, strconv.Itoa(video.CachedUsers), colorize))
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Notifications", colorize) {
		fmt.Fprintln(out, line)
	}
	if len(status.Channels) == 0 {
		fmt.Fprintln(out, renderStatusLine("Channels", statusWarn, "none enabled", colorize))
		return
	}
	fmt.Fprintln(out, renderStatusLine("Channels", statusOK, strings.Join(status.Channels, ", "), colorize))
}

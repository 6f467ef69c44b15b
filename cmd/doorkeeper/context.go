package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"doorkeeper/internal/config"
	"doorkeeper/internal/ipc"
)

// skipConfigAnnotation marks commands that must run without a loadable
// config file (config init, config validate).
const skipConfigAnnotation = "skipConfigLoad"

// commandContext carries the persistent flags and the lazily loaded config
// shared by every subcommand.
type commandContext struct {
	socketFlag *string
	configFlag *string

	loadConfig func() (*config.Config, error)
}

func newCommandContext(socketFlag, configFlag *string) *commandContext {
	c := &commandContext{socketFlag: socketFlag, configFlag: configFlag}
	c.loadConfig = sync.OnceValues(func() (*config.Config, error) {
		cfg, _, _, err := config.Load(c.configPathFlag())
		return cfg, err
	})
	return c
}

func (c *commandContext) configPathFlag() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	return c.loadConfig()
}

// socketPath prefers --socket, then paths.socket_path from the config.
func (c *commandContext) socketPath() string {
	if c.socketFlag != nil {
		if flag := strings.TrimSpace(*c.socketFlag); flag != "" {
			return flag
		}
	}
	if cfg, err := c.ensureConfig(); err == nil && cfg.Paths.SocketPath != "" {
		return cfg.Paths.SocketPath
	}
	return filepath.Join(os.TempDir(), "doorkeeper.sock")
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	socket := c.socketPath()
	client, err := ipc.Dial(socket)
	if err != nil {
		return dialError(err, socket)
	}
	defer client.Close()
	return fn(client)
}

func dialError(err error, socket string) error {
	var hint string
	switch {
	case errors.Is(err, syscall.ENOENT):
		hint = "not found; start the daemon with `doorkeeper run`"
	case errors.Is(err, syscall.ECONNREFUSED):
		hint = "refused the connection; the daemon may have exited without removing it"
	case errors.Is(err, syscall.EACCES):
		hint = "is not accessible; run as the daemon's user"
	default:
		return fmt.Errorf("connect to daemon: %w; start it with `doorkeeper run`", err)
	}
	return fmt.Errorf("connect to daemon: socket %s %s", socket, hint)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipConfigAnnotation] == "true" {
			return true
		}
	}
	return false
}

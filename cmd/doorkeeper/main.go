package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"doorkeeper/internal/faults"
)

// exitStartupFatal is the exit status when the daemon cannot start.
const exitStartupFatal = 2

func main() {
	cmd := newRootCommand()
	err := cmd.Execute()
	switch {
	case err == nil:
		return
	case errors.Is(err, context.Canceled):
		os.Exit(1)
	case faults.Fatal(err):
		fmt.Fprintln(os.Stderr, "doorkeeper:", err)
		os.Exit(exitStartupFatal)
	default:
		fmt.Fprintln(os.Stderr, "doorkeeper:", err)
		os.Exit(1)
	}
}

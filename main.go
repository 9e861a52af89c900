// ./main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/karavolt/deskpilot-cli/cmd"
)

// main is the entry point for the deskpilot CLI application.
func main() {
	// Set up a context that listens for interrupt signals for graceful
	// shutdown; an in-flight sandbox run must get its teardown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		os.Exit(1)
	}
}

// ./main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/formpilot/formpilot-cli/cmd"
)

// main is the entry point for the formpilot CLI.
func main() {
	// Interrupts abort the browser and provider loops cleanly instead of
	// leaving orphaned Chrome processes behind.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.ExecuteContext(ctx)
}

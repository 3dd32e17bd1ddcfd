package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spherical/doc-ingest/cmd/doc-ingest/commands"
	"github.com/spherical/doc-ingest/cmd/doc-ingest/ui"
)

var version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	commands.SetVersion(version)
	if err := commands.ExecuteContext(ctx); err != nil {
		ui.Error("%v", err)
		stop()
		os.Exit(commands.ExitCode(err))
	}
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gear6io/ranger-catalog/cli"
	"github.com/pterm/pterm"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.ExecuteWithContext(ctx); err != nil {
		pterm.Error.Println(cli.ErrorMessage(err))
		stop()
		os.Exit(1)
	}
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"review_hub/internal/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(shared.Load()).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

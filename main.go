package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/stevemurr/objectbox/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.New().Execute(ctx, os.Args[1:]); err != nil {
		stop()
		os.Exit(1)
	}
}

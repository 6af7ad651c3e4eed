// Package main provides the impalineage command.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/leapstack-labs/impalineage/internal/cli"
)

func main() {
	ctx, stop := notifyContext()
	err := cli.Execute(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// notifyContext returns a context cancelled by SIGINT or SIGTERM. After the
// first signal the handler is released, so a second one terminates the process.
func notifyContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}

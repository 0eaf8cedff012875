package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/3leaps/srcindex/internal/workerproc"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := workerproc.Run(ctx, os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

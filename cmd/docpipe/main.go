// Command docpipe ingests a directory of documents: it detects changed files,
// admits them under memory pressure, drops duplicates and runs model-backed
// extraction, resuming from a checkpoint when interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// Package main provides the relay CLI, which operates the outbox of one
// service.
//
// Usage:
//
//	relay run                      # publish until SIGINT or SIGTERM
//	relay status [-o json]         # record counts and oldest pending age
//	relay replay --event-id <uuid> # move a DEAD record back to PENDING
//	relay drain                    # publish everything claimable, then exit
//
// Exit codes: 0 on success, 1 on an operational failure, 2 on a usage error.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], startApp, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
)

// Build-time variables (set via ldflags).
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	var cli CLI
	kctx := kong.Parse(&cli, kongVars(), kong.Description("Crucible agent-session daemon"))
	kctx.FatalIfErrorf(kctx.Run())
}

// signalContext returns a context canceled on SIGINT/SIGTERM, mirroring the
// shim's graceful-shutdown handling (cmd/shim/main.go in the reference
// subprocess-supervisor package this daemon's orchestrator is grounded on).
func signalContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "received shutdown signal, stopping daemon...")
		cancel()
	}()
	return ctx, cancel
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/holocore/holod/internal/daemon"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ==========================================
	// 1. Parse flags
	// ==========================================
	cfgPath := flag.String("config", "/etc/holod.toml", "path to the holod TOML configuration file")
	flag.Parse()

	// ==========================================
	// 2. Build the daemon: load config, set up logging, open the
	//    rollback log, build the schema (spec.md §6 exit-code policy: any
	//    failure here is fatal init error, exit code 1).
	// ==========================================
	d, err := daemon.New(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "holod: %v\n", err)
		return 1
	}

	// ==========================================
	// 3. Run until SIGINT/SIGTERM, then shut down in an orderly way.
	// ==========================================
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		slog.Error("holod exited with error", "error", err)
		return 1
	}
	return 0
}

// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"timbre/cmd"
	"timbre/internal/log"
	"timbre/pkg/build"
)

// main is the entry point for the feature extractor.
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Configure runtime settings
//   - Parse command line arguments and configuration
//
// 2. Run Phase:
//   - Execute the selected command (live capture, analyze, list, devices)
//
// 3. Shutdown Phase (Cold Path):
//   - Termination signals cancel the command's context
//   - Each command releases its own resources before returning
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	// Initialize build information including version, commit hash, and build time
	if err := build.Initialize(); err != nil {
		log.Fatalf("%v", err)
	}

	// Limit OS threads for real-time audio processing:
	// - One thread for the PortAudio callback and frame loop
	// - One thread for UI and I/O operations
	runtime.GOMAXPROCS(2)

	cfg, err := cmd.ParseArgs(os.Args[1:], os.Stdout)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if cfg == nil {
		// Help or version output only.
		return
	}
	log.SetLevel(cfg.Level())

	// ==================== RUN PHASE ====================

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, cfg); err != nil && ctx.Err() == nil {
		stop()
		log.Fatalf("%v", err)
	}
}

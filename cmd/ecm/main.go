// ecm is the command-line entry point for the entropic causal memory
// engine: transcript ingestion, hybrid search, maintenance and archive
// round-tripping, all as thin calls into the engine's Go API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"ecm/internal/config"
	"ecm/internal/errs"
	"ecm/internal/logging"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		usage()
		return
	}

	cfg, err := config.Load(os.Getenv("ECM_CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ecm: loading configuration: %v\n", err)
		os.Exit(1)
	}
	log := logging.NewLogger(logging.ParseLevel(cfg.Logging.Level)).WithComponent("cli")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var runErr error
	switch cmd {
	case "ingest":
		runErr = cmdIngest(ctx, cfg, log, args)
	case "batch-ingest":
		runErr = cmdBatchIngest(ctx, cfg, log, args)
	case "search":
		runErr = cmdSearch(ctx, cfg, log, args)
	case "recluster":
		runErr = cmdRecluster(ctx, cfg, log, args)
	case "stats":
		runErr = cmdStats(ctx, cfg, log, args)
	case "health":
		runErr = cmdHealth(ctx, cfg, log, args)
	case "export":
		runErr = cmdExport(ctx, cfg, log, args)
	case "import":
		runErr = cmdImport(ctx, cfg, log, args)
	case "uninstall":
		runErr = cmdUninstall(cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "ecm: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if runErr != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "ecm: %v\n", runErr)
		os.Exit(errs.ExitCode(runErr))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: ecm <command> [flags]

commands:
  ingest <path>                  ingest a single transcript file
  batch-ingest <dir>              ingest every transcript found under a directory
  search <query> [--project p] [--k n]
                                  hybrid search over ingested memory
  recluster [--min-size n]        re-run HDBSCAN clustering over all embeddings
  stats                           print chunk/edge/cluster/vector counts
  health                          check storage and embedder health
  export --output <path> [--no-encrypt]
                                  write an archive snapshot
  import <file> [--merge]         restore an archive snapshot
  uninstall [--force] [--keep-data] [--dry-run]
                                  remove this instance's on-disk data`)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/hiveforge-labs/hiveforge/pkg/akashic"
)

// runExportCmd copies a stream's raw JSONL records to a file. The chain
// is verified first so an exported bundle is known-good.
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		vault      string
		runID      string
		out        string
		skipVerify bool
	)
	cmd.StringVar(&vault, "vault", ".hiveforge/vault", "Path to the vault directory")
	cmd.StringVar(&runID, "run", "", "Run id to export (REQUIRED)")
	cmd.StringVar(&out, "out", "", "Destination file (REQUIRED)")
	cmd.BoolVar(&skipVerify, "skip-verify", false, "Export without verifying the chain")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if runID == "" || out == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --run and --out are required")
		return 2
	}

	store, err := akashic.NewStore(vault)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open vault: %v\n", err)
		return 2
	}

	ctx := context.Background()
	if !skipVerify {
		result, err := akashic.VerifyChain(ctx, store, runID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: verify %s: %v\n", runID, err)
			return 2
		}
		if !result.OK {
			_, _ = fmt.Fprintf(stderr, "Error: chain broken at %s: %s\n", result.OffendingID, result.Reason)
			return 1
		}
	}

	if err := store.Export(ctx, runID, out); err != nil {
		if errors.Is(err, akashic.ErrStreamNotFound) {
			_, _ = fmt.Fprintf(stderr, "Error: no such stream: %s\n", runID)
		} else {
			_, _ = fmt.Fprintf(stderr, "Error: export: %v\n", err)
		}
		return 2
	}

	_, _ = fmt.Fprintf(stdout, "Exported %s to %s\n", runID, out)
	return 0
}

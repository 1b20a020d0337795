package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/hiveforge-labs/hiveforge/pkg/akashic"
)

// runVerifyCmd walks one run stream (or every stream with --all) and
// checks the hash chain.
//
// Exit codes:
//
//	0 = every checked chain intact
//	1 = a chain is broken
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		vault      string
		runID      string
		all        bool
		jsonOutput bool
	)
	cmd.StringVar(&vault, "vault", ".hiveforge/vault", "Path to the vault directory")
	cmd.StringVar(&runID, "run", "", "Run id to verify")
	cmd.BoolVar(&all, "all", false, "Verify every stream in the vault")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if runID == "" && !all {
		_, _ = fmt.Fprintln(stderr, "Error: --run or --all is required")
		return 2
	}

	store, err := akashic.NewStore(vault)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open vault: %v\n", err)
		return 2
	}

	keys := []string{runID}
	if all {
		keys, err = store.ListStreams()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: list streams: %v\n", err)
			return 2
		}
	}

	ctx := context.Background()
	results := make(map[string]*akashic.VerifyResult, len(keys))
	broken := false
	for _, key := range keys {
		result, err := akashic.VerifyChain(ctx, store, key)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: verify %s: %v\n", key, err)
			return 2
		}
		results[key] = result
		if !result.OK {
			broken = true
		}
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(results, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		for _, key := range keys {
			result := results[key]
			if result.OK {
				_, _ = fmt.Fprintf(stdout, "%s: OK (%d events)\n", key, result.Checked)
			} else {
				_, _ = fmt.Fprintf(stdout, "%s: BROKEN at %s: %s\n", key, result.OffendingID, result.Reason)
			}
		}
	}

	if broken {
		return 1
	}
	return 0
}

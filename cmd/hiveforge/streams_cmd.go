package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/hiveforge-labs/hiveforge/pkg/akashic"
)

type streamSummary struct {
	Run       string    `json:"run"`
	Events    int       `json:"events"`
	LastType  string    `json:"last_type"`
	UpdatedAt time.Time `json:"updated_at"`
}

// runStreamsCmd lists every non-empty run stream with its event count
// and last event.
func runStreamsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("streams", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		vault      string
		jsonOutput bool
	)
	cmd.StringVar(&vault, "vault", ".hiveforge/vault", "Path to the vault directory")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	store, err := akashic.NewStore(vault)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open vault: %v\n", err)
		return 2
	}

	keys, err := store.ListStreams()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: list streams: %v\n", err)
		return 2
	}

	ctx := context.Background()
	summaries := make([]streamSummary, 0, len(keys))
	for _, key := range keys {
		count, err := store.CountEvents(ctx, key)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: count %s: %v\n", key, err)
			return 2
		}
		last, err := store.LastEvent(ctx, key)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: tail %s: %v\n", key, err)
			return 2
		}
		summaries = append(summaries, streamSummary{
			Run:       key,
			Events:    count,
			LastType:  string(last.Type),
			UpdatedAt: last.Timestamp,
		})
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(summaries, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	if len(summaries) == 0 {
		_, _ = fmt.Fprintln(stdout, "No streams.")
		return 0
	}
	for _, s := range summaries {
		_, _ = fmt.Fprintf(stdout, "%s  %d events  last=%s at %s\n",
			s.Run, s.Events, s.LastType, s.UpdatedAt.Format(time.RFC3339))
	}
	return 0
}

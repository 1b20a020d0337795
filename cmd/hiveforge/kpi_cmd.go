package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/hiveforge-labs/hiveforge/pkg/honeycomb"
)

// runKPICmd computes honeycomb KPI scores over recorded episodes, for
// one colony or the whole hive.
func runKPICmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("kpi", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		vault      string
		colony     string
		jsonOutput bool
	)
	cmd.StringVar(&vault, "vault", ".hiveforge/vault", "Path to the vault directory")
	cmd.StringVar(&colony, "colony", "", "Restrict to one colony")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	store, err := honeycomb.NewStore(filepath.Join(vault, "honeycomb"))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open honeycomb: %v\n", err)
		return 2
	}

	var episodes []honeycomb.Episode
	if colony != "" {
		episodes, err = store.ReadColony(colony)
	} else {
		episodes, err = store.ReadAll()
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read episodes: %v\n", err)
		return 2
	}

	scores := honeycomb.NewKPICalculator().Calculate(episodes)

	if jsonOutput {
		data, _ := json.MarshalIndent(scores, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "Episodes:        %d\n", len(episodes))
	_, _ = fmt.Fprintf(stdout, "Correctness:     %.3f\n", scores.Correctness)
	_, _ = fmt.Fprintf(stdout, "Incident rate:   %.3f\n", scores.IncidentRate)
	_, _ = fmt.Fprintf(stdout, "Recurrence rate: %.3f\n", scores.RecurrenceRate)
	_, _ = fmt.Fprintf(stdout, "Lead time:       %.1fs\n", scores.LeadTimeSeconds)
	if scores.Repeatability != nil {
		_, _ = fmt.Fprintf(stdout, "Repeatability:   %.3f\n", *scores.Repeatability)
	}
	return 0
}

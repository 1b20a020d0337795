package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveforge-labs/hiveforge/pkg/akashic"
	"github.com/hiveforge-labs/hiveforge/pkg/event"
	"github.com/hiveforge-labs/hiveforge/pkg/honeycomb"
)

func seedVault(t *testing.T, runID string, n int) string {
	t.Helper()
	vault := t.TempDir()
	store, err := akashic.NewStore(vault)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		e, err := event.New("task.completed", "worker_bee", map[string]any{"n": i}, event.WithRunID(runID))
		require.NoError(t, err)
		require.NoError(t, store.Append(context.Background(), e))
	}
	return vault
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"hiveforge"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVerifyIntactChain(t *testing.T) {
	vault := seedVault(t, "run-1", 3)
	code, out, _ := runCLI(t, "verify", "--vault", vault, "--run", "run-1")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "run-1: OK (3 events)")
}

func TestVerifyDetectsTampering(t *testing.T) {
	vault := seedVault(t, "run-1", 3)
	path := filepath.Join(vault, "run-1", "events.jsonl")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := bytes.Replace(data, []byte(`"n":1`), []byte(`"n":9`), 1)
	require.NotEqual(t, data, tampered)
	require.NoError(t, os.WriteFile(path, tampered, 0o644))

	code, out, _ := runCLI(t, "verify", "--vault", vault, "--run", "run-1")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "BROKEN")
}

func TestVerifyAllStreams(t *testing.T) {
	vault := seedVault(t, "run-1", 2)
	store, err := akashic.NewStore(vault)
	require.NoError(t, err)
	e, err := event.New("run.started", "queen_bee", nil, event.WithRunID("run-2"))
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), e))

	code, out, _ := runCLI(t, "verify", "--vault", vault, "--all")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "run-1: OK")
	assert.Contains(t, out, "run-2: OK")
}

func TestExportWritesRecords(t *testing.T) {
	vault := seedVault(t, "run-1", 2)
	dest := filepath.Join(t.TempDir(), "run-1.jsonl")

	code, out, _ := runCLI(t, "export", "--vault", vault, "--run", "run-1", "--out", dest)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, dest)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

func TestExportRefusesBrokenChain(t *testing.T) {
	vault := seedVault(t, "run-1", 2)
	path := filepath.Join(vault, "run-1", "events.jsonl")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, bytes.Replace(data, []byte(`"n":0`), []byte(`"n":7`), 1), 0o644))

	dest := filepath.Join(t.TempDir(), "run-1.jsonl")
	code, _, errOut := runCLI(t, "export", "--vault", vault, "--run", "run-1", "--out", dest)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "chain broken")
	assert.NoFileExists(t, dest)
}

func TestStreamsListsSummaries(t *testing.T) {
	vault := seedVault(t, "run-1", 3)
	code, out, _ := runCLI(t, "streams", "--vault", vault)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "run-1  3 events  last=task.completed")
}

func TestKPIOverEpisodes(t *testing.T) {
	vault := t.TempDir()
	store, err := honeycomb.NewStore(filepath.Join(vault, "honeycomb"))
	require.NoError(t, err)
	for i, outcome := range []honeycomb.Outcome{honeycomb.OutcomeSuccess, honeycomb.OutcomeSuccess, honeycomb.OutcomeFailure} {
		ep := honeycomb.Episode{
			EpisodeID:       "ep-" + string(rune('a'+i)),
			RunID:           "run-1",
			ColonyID:        "colony-a",
			TemplateUsed:    "balanced",
			Outcome:         outcome,
			DurationSeconds: 10,
		}
		if outcome == honeycomb.OutcomeFailure {
			ep.FailureClass = honeycomb.FailureTimeout
		}
		require.NoError(t, store.Append(context.Background(), &ep))
	}

	code, out, _ := runCLI(t, "kpi", "--vault", vault, "--colony", "colony-a")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Episodes:        3")
	assert.Contains(t, out, "Correctness:     0.667")
}

func TestUnknownCommand(t *testing.T) {
	code, _, errOut := runCLI(t, "bogus")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Unknown command")
}

package event

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AssignsSortableIDs(t *testing.T) {
	first, err := New(TypeRunStarted, "system", map[string]any{"goal": "a"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := New(TypeRunCompleted, "system", nil)
	require.NoError(t, err)

	assert.True(t, first.ID < second.ID, "ids must be lexicographically time-ordered")
}

func TestComputeHash_Stable(t *testing.T) {
	e := MustNew(TypeTaskCreated, "queen-1", map[string]any{
		"task_id": "T1",
		"title":   "build parser",
	}, WithRunID("R1"))

	h1, err := e.ComputeHash()
	require.NoError(t, err)
	h2, err := e.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestComputeHash_ExcludesHashField(t *testing.T) {
	e := MustNew(TypeRunStarted, "user", map[string]any{"goal": "x"}, WithRunID("R1"))
	before, err := e.ComputeHash()
	require.NoError(t, err)

	require.NoError(t, e.Seal(""))
	after, err := e.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, before, after, "setting hash must not perturb the digest")
}

func TestSeal_LinksPrevHash(t *testing.T) {
	a := MustNew(TypeRunStarted, "user", map[string]any{"goal": "x"}, WithRunID("R1"))
	require.NoError(t, a.Seal(""))
	assert.Empty(t, a.PrevHash)
	assert.NotEmpty(t, a.Hash)

	b := MustNew(TypeRunCompleted, "system", nil, WithRunID("R1"))
	require.NoError(t, b.Seal(a.Hash))
	assert.Equal(t, a.Hash, b.PrevHash)
}

func TestNew_RejectsNonFinitePayload(t *testing.T) {
	_, err := New(TypeLLMResponse, "system", map[string]any{"cost": math.NaN()})
	require.Error(t, err)

	_, err = New(TypeLLMResponse, "system", map[string]any{"cost": math.Inf(1)})
	require.Error(t, err)
}

func TestNormalizePayload_Shapes(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("JST", 9*3600))
	out, err := NormalizePayload(map[string]any{
		"bytes": []byte{0xde, 0xad},
		"when":  ts,
		"set":   map[string]struct{}{"b": {}, "a": {}},
		"nested": map[string]any{
			"n": 3,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "dead", out["bytes"])
	assert.Equal(t, "2026-03-01T03:00:00Z", out["when"])
	assert.Equal(t, []any{"a", "b"}, out["set"])
}

func TestParse_RoundTrip(t *testing.T) {
	e := MustNew(TypeTaskCompleted, "worker-1", map[string]any{
		"task_id":  "T1",
		"progress": 100,
	}, WithRunID("R1"), WithTaskID("T1"), WithParents("p1", "p2"))
	require.NoError(t, e.Seal("abc"))

	line, err := e.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(line)
	require.NoError(t, err)
	assert.Equal(t, e.ID, parsed.ID)
	assert.Equal(t, e.Type, parsed.Type)
	assert.Equal(t, e.RunID, parsed.RunID)
	assert.Equal(t, e.Parents, parsed.Parents)
	assert.Equal(t, e.Hash, parsed.Hash)
	assert.True(t, parsed.Known())

	// Re-serializing a parsed event must never change its hash.
	recomputed, err := parsed.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, e.Hash, recomputed)
}

func TestParse_UnknownTypePreserved(t *testing.T) {
	line := `{"id":"01","type":"future.shiny","timestamp":"2026-01-01T00:00:00Z","actor":"system","payload":{"x":1}}`
	parsed, err := Parse([]byte(line))
	require.NoError(t, err)
	assert.False(t, parsed.Known())
	assert.Equal(t, Type("future.shiny"), parsed.Type)
	assert.Contains(t, parsed.Payload, "x")
}

func TestParse_OversizedPayloadTruncated(t *testing.T) {
	big := strings.Repeat("a", MaxPayloadBytes+10)
	line := `{"id":"01","type":"future.shiny","timestamp":"2026-01-01T00:00:00Z","actor":"system","payload":{"blob":"` + big + `"}}`

	parsed, err := Parse([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, true, parsed.Payload[TruncationSentinelKey])
	assert.NotContains(t, parsed.Payload, "blob")
}

func TestStreamKey(t *testing.T) {
	run := MustNew(TypeRunStarted, "user", nil, WithRunID("R1"))
	assert.Equal(t, "R1", run.StreamKey())

	hive := MustNew(TypeHiveCreated, "user", nil, WithHiveID("H1"))
	assert.Equal(t, "H1", hive.StreamKey())
}

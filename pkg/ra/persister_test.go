package ra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDraft() *SpecDraft {
	return &SpecDraft{
		DraftID: "d-1",
		Version: 1,
		Goal:    "Add retry with backoff to the fetcher",
		AcceptanceCriteria: []Criterion{
			{Raw: "429 responses are retried"},
			{Structured: &AcceptanceCriterion{Text: "latency under 2s", Measurable: true}},
		},
		Constraints: []string{"no new dependencies"},
		NonGoals:    []string{"circuit breaking"},
	}
}

func TestPersisterNextID(t *testing.T) {
	p, err := NewPersister(t.TempDir(), "REQ")
	require.NoError(t, err)

	id, err := p.NextID()
	require.NoError(t, err)
	assert.Equal(t, "REQ001", id)
}

func TestPersisterPersistAssignsSequentialIDs(t *testing.T) {
	p, err := NewPersister(t.TempDir(), "REQ")
	require.NoError(t, err)

	first := testDraft()
	id1, err := p.Persist(first)
	require.NoError(t, err)
	assert.Equal(t, "REQ001", id1)
	assert.Equal(t, "REQ001", first.DocumentID)
	assert.FileExists(t, first.FilePath)

	second := testDraft()
	second.DocumentID = ""
	id2, err := p.Persist(second)
	require.NoError(t, err)
	assert.Equal(t, "REQ002", id2)
}

func TestPersisterRejectsExistingExplicitID(t *testing.T) {
	p, err := NewPersister(t.TempDir(), "REQ")
	require.NoError(t, err)

	_, err = p.Persist(testDraft())
	require.NoError(t, err)

	dup := testDraft()
	dup.DocumentID = "REQ001"
	dup.FilePath = ""
	_, err = p.Persist(dup)
	assert.ErrorContains(t, err, "already exists")
}

func TestPersisterRoundTrip(t *testing.T) {
	p, err := NewPersister(t.TempDir(), "REQ")
	require.NoError(t, err)

	draft := testDraft()
	id, err := p.Persist(draft)
	require.NoError(t, err)

	doc, err := p.Read(id)
	require.NoError(t, err)
	assert.Equal(t, draft.Goal, doc.Goal)
	assert.Equal(t, []string{"429 responses are retried", "latency under 2s"}, doc.AcceptanceCriteria)
	assert.Contains(t, doc.Text, "## Goal")
	assert.Contains(t, doc.Text, "## Non-Goals")
	assert.Nil(t, doc.Reviewed)
}

func TestPersisterWritesFeatureFile(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPersister(dir, "REQ")
	require.NoError(t, err)

	draft := testDraft()
	id, err := p.Persist(draft)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "features", id+".feature"))
	require.NoError(t, err)
	feature := string(raw)
	assert.Contains(t, feature, "Feature: "+draft.Goal)
	assert.Contains(t, feature, "Scenario: Criterion 1")
	assert.Contains(t, feature, "Scenario: Criterion 2")
	assert.Contains(t, feature, "Then 429 responses are retried")
}

func TestPersisterList(t *testing.T) {
	p, err := NewPersister(t.TempDir(), "SPEC")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		d := testDraft()
		_, err := p.Persist(d)
		require.NoError(t, err)
	}

	ids, err := p.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"SPEC001", "SPEC002", "SPEC003"}, ids)
}

func TestPersisterUpdateTextClearsReviewed(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPersister(dir, "REQ")
	require.NoError(t, err)

	id, err := p.Persist(testDraft())
	require.NoError(t, err)

	// Simulate a reviewer marking the document before the edit.
	doc, err := p.Read(id)
	require.NoError(t, err)
	reviewed := true
	doc.Reviewed = &reviewed
	require.NoError(t, p.UpdateText(id, doc.Text))

	updated, err := p.Read(id)
	require.NoError(t, err)
	assert.Nil(t, updated.Reviewed)
}

func TestPersisterDiff(t *testing.T) {
	p, err := NewPersister(t.TempDir(), "REQ")
	require.NoError(t, err)

	id, err := p.Persist(testDraft())
	require.NoError(t, err)

	revised := testDraft()
	revised.Goal = "Add retry and circuit breaking to the fetcher"
	revised.Constraints = []string{"no new dependencies", "backoff capped at 30s"}
	revised.NonGoals = nil

	changes, err := p.Diff(id, revised)
	require.NoError(t, err)
	assert.Contains(t, changes, `constraints: added "backoff capped at 30s"`)
	assert.Contains(t, changes, `non_goals: removed "circuit breaking"`)

	var goalChanged bool
	for _, c := range changes {
		if len(c) > 5 && c[:5] == "goal:" {
			goalChanged = true
		}
	}
	assert.True(t, goalChanged)
}

func TestPersisterDefaultPrefix(t *testing.T) {
	p, err := NewPersister(t.TempDir(), "")
	require.NoError(t, err)
	id, err := p.NextID()
	require.NoError(t, err)
	assert.Equal(t, "REQ001", id)
}

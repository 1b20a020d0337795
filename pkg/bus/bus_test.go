package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveforge-labs/hiveforge/pkg/akashic"
	"github.com/hiveforge-labs/hiveforge/pkg/event"
)

func TestBusFanOut(t *testing.T) {
	b := NewActivityBus()
	ch1, cancel1 := b.Subscribe(SubscriberInfo{ID: "beekeeper", AgentType: "beekeeper"})
	defer cancel1()
	ch2, cancel2 := b.Subscribe(SubscriberInfo{ID: "queen", AgentType: "queen_bee"})
	defer cancel2()

	b.Publish(ActivityEvent{AgentID: "worker-1", Kind: "task_progress", Message: "halfway"})

	got1 := <-ch1
	got2 := <-ch2
	assert.Equal(t, "halfway", got1.Message)
	assert.Equal(t, got1.ID, got2.ID)
	assert.False(t, got1.Timestamp.IsZero())
}

func TestBusDropsNewestOnBackpressure(t *testing.T) {
	b := NewActivityBus(WithQueueSize(2))
	ch, cancel := b.Subscribe(SubscriberInfo{ID: "slow"})
	defer cancel()

	for i := 0; i < 5; i++ {
		b.Publish(ActivityEvent{AgentID: "w", Kind: "tick", Message: string(rune('a' + i))})
	}

	// The first two events fit the queue; the rest were dropped.
	assert.Equal(t, "a", (<-ch).Message)
	assert.Equal(t, "b", (<-ch).Message)
	assert.Equal(t, 3, b.Dropped("slow"))
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %q", e.Message)
	default:
	}
}

func TestBusRecent(t *testing.T) {
	b := NewActivityBus(WithHistorySize(3))
	for i := 0; i < 5; i++ {
		b.Publish(ActivityEvent{AgentID: "w", Kind: "tick", Message: string(rune('a' + i))})
	}

	recent := b.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "c", recent[0].Message)
	assert.Equal(t, "e", recent[2].Message)

	// Asking beyond history yields what exists.
	assert.Len(t, b.Recent(10), 3)
	assert.Len(t, NewActivityBus().Recent(5), 0)
}

func TestBusUnsubscribeClosesQueue(t *testing.T) {
	b := NewActivityBus()
	ch, cancel := b.Subscribe(SubscriberInfo{ID: "x"})
	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	b.Publish(ActivityEvent{AgentID: "w", Kind: "tick"})
}

func TestBusHierarchy(t *testing.T) {
	b := NewActivityBus()
	_, c1 := b.Subscribe(SubscriberInfo{ID: "beekeeper", AgentType: "beekeeper"})
	defer c1()
	_, c2 := b.Subscribe(SubscriberInfo{ID: "queen-1", AgentType: "queen_bee", ParentAgentID: "beekeeper"})
	defer c2()
	_, c3 := b.Subscribe(SubscriberInfo{ID: "worker-1", AgentType: "worker_bee", ParentAgentID: "queen-1"})
	defer c3()
	_, c4 := b.Subscribe(SubscriberInfo{ID: "worker-2", AgentType: "worker_bee", ParentAgentID: "queen-1"})
	defer c4()

	roots := b.Hierarchy()
	require.Len(t, roots, 1)
	assert.Equal(t, "beekeeper", roots[0].ID)
	require.Len(t, roots[0].Children, 1)
	queen := roots[0].Children[0]
	require.Len(t, queen.Children, 2)
	assert.Equal(t, "worker-1", queen.Children[0].ID)
	assert.Equal(t, "worker-2", queen.Children[1].ID)
}

func TestSilenceDetectorFires(t *testing.T) {
	store, err := akashic.NewStore(t.TempDir())
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	clock := func() time.Time { return now }

	var gotRun string
	var gotSilence time.Duration
	d := NewSilenceDetector(store, "run-1", 10*time.Second, func(runID string, silentFor time.Duration) {
		gotRun = runID
		gotSilence = silentFor
	}, WithDetectorClock(clock))

	// Inside the tolerance window nothing fires.
	now = base.Add(15 * time.Second)
	assert.False(t, d.Check(context.Background(), now))

	now = base.Add(25 * time.Second)
	require.True(t, d.Check(context.Background(), now))
	assert.Equal(t, "run-1", gotRun)
	assert.Equal(t, 25*time.Second, gotSilence)
	assert.Equal(t, 1, d.Fired())

	events, err := store.ReadAll(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeSystemSilenceDetected, events[0].Type)
	assert.InDelta(t, 25.0, events[0].Payload["silent_seconds"].(float64), 0.001)
}

func TestSilenceDetectorSelfResets(t *testing.T) {
	store, err := akashic.NewStore(t.TempDir())
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := NewSilenceDetector(store, "run-1", 10*time.Second, nil,
		WithDetectorClock(func() time.Time { return base }))

	require.True(t, d.Check(context.Background(), base.Add(30*time.Second)))
	// The window restarted at the firing instant: no flapping.
	assert.False(t, d.Check(context.Background(), base.Add(40*time.Second)))
	// A second full silence fires again.
	assert.True(t, d.Check(context.Background(), base.Add(55*time.Second)))
	assert.Equal(t, 2, d.Fired())
}

func TestSilenceDetectorActivityResetsClock(t *testing.T) {
	store, err := akashic.NewStore(t.TempDir())
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := NewSilenceDetector(store, "run-1", 10*time.Second, nil,
		WithDetectorClock(func() time.Time { return base }))

	d.RecordActivity(base.Add(20 * time.Second))
	assert.False(t, d.Check(context.Background(), base.Add(30*time.Second)))

	// Stale activity never moves the clock backwards.
	d.RecordActivity(base)
	assert.True(t, d.Check(context.Background(), base.Add(45*time.Second)))
}

func TestHeartbeatManager(t *testing.T) {
	store, err := akashic.NewStore(t.TempDir())
	require.NoError(t, err)

	m := NewHeartbeatManager(store, time.Hour, nil)
	ctx := context.Background()

	d1 := m.Track(ctx, "run-1")
	d2 := m.Track(ctx, "run-1")
	assert.Same(t, d1, d2)
	m.Track(ctx, "run-2")
	assert.Equal(t, 2, m.Tracked())

	m.RecordActivity("run-1", time.Now())
	m.RecordActivity("unknown", time.Now())

	m.Untrack("run-1")
	assert.Equal(t, 1, m.Tracked())
	m.StopAll()
	assert.Equal(t, 0, m.Tracked())
}

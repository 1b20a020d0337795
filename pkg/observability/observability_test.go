package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveforge-labs/hiveforge/pkg/akashic"
	"github.com/hiveforge-labs/hiveforge/pkg/event"
)

func TestDisabledProviderIsSafe(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, done := p.TrackOperation(context.Background(), "plan", RunAttrs("run-1", "queen_bee")...)
	assert.NotNil(t, ctx)
	done(errors.New("boom"))

	p.RecordError(context.Background(), errors.New("boom"))
	p.RecordDuration(context.Background(), time.Second)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestEventMetricsCountsAppends(t *testing.T) {
	store, err := akashic.NewStore(t.TempDir())
	require.NoError(t, err)

	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	metrics := NewEventMetrics(p)
	metrics.Attach(store)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		e, err := event.New("task.completed", "worker_bee", map[string]any{"n": i}, event.WithRunID("run-1"))
		require.NoError(t, err)
		require.NoError(t, store.Append(ctx, e))
	}
	e, err := event.New("run.completed", "queen_bee", nil, event.WithRunID("run-1"))
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, e))

	assert.Equal(t, int64(4), metrics.Total())
	assert.Equal(t, int64(3), metrics.CountByType("task.completed"))
	assert.Equal(t, int64(1), metrics.CountByType("run.completed"))
	assert.Zero(t, metrics.CountByType("run.failed"))
}

func healthTestTracker() (*HealthTracker, time.Time) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewHealthTracker().WithClock(func() time.Time { return now })
	tracker.SetObjective(Objective{
		Operation:   OpDispatch,
		LatencyP99:  500 * time.Millisecond,
		SuccessRate: 0.99,
		Window:      time.Hour,
	})
	return tracker, now
}

func TestHealthInCompliance(t *testing.T) {
	tracker, now := healthTestTracker()
	for i := 0; i < 100; i++ {
		tracker.Record(Observation{
			Operation: OpDispatch,
			Latency:   50 * time.Millisecond,
			Success:   true,
			Timestamp: now.Add(-time.Minute),
		})
	}

	h, err := tracker.Status(OpDispatch)
	require.NoError(t, err)
	assert.True(t, h.InCompliance)
	assert.Equal(t, 1.0, h.SuccessRate)
	assert.Equal(t, 100, h.Observations)
	assert.Zero(t, h.BurnRate)
	assert.Equal(t, 100.0, h.ErrorBudgetLeft)
}

func TestHealthOutOfCompliance(t *testing.T) {
	tracker, now := healthTestTracker()
	for i := 0; i < 100; i++ {
		tracker.Record(Observation{
			Operation: OpDispatch,
			Latency:   50 * time.Millisecond,
			Success:   i < 90,
			Timestamp: now.Add(-time.Minute),
		})
	}

	h, err := tracker.Status(OpDispatch)
	require.NoError(t, err)
	assert.False(t, h.InCompliance)
	assert.InDelta(t, 0.90, h.SuccessRate, 1e-9)
	// 10% errors against a 1% budget burns at 10x.
	assert.InDelta(t, 10.0, h.BurnRate, 1e-9)
	assert.Zero(t, h.ErrorBudgetLeft)
}

func TestHealthLatencyViolation(t *testing.T) {
	tracker, now := healthTestTracker()
	for i := 0; i < 10; i++ {
		tracker.Record(Observation{
			Operation: OpDispatch,
			Latency:   2 * time.Second,
			Success:   true,
			Timestamp: now.Add(-time.Minute),
		})
	}

	h, err := tracker.Status(OpDispatch)
	require.NoError(t, err)
	assert.False(t, h.InCompliance)
	assert.Equal(t, 2000.0, h.P99Ms)
}

func TestHealthWindowExcludesOldObservations(t *testing.T) {
	tracker, now := healthTestTracker()
	tracker.Record(Observation{
		Operation: OpDispatch,
		Latency:   time.Second,
		Success:   false,
		Timestamp: now.Add(-2 * time.Hour),
	})

	h, err := tracker.Status(OpDispatch)
	require.NoError(t, err)
	assert.True(t, h.InCompliance)
	assert.Zero(t, h.Observations)
	assert.Equal(t, 100.0, h.ErrorBudgetLeft)
}

func TestHealthMissingObjective(t *testing.T) {
	tracker := NewHealthTracker()
	_, err := tracker.Status("unknown")
	assert.ErrorContains(t, err, "no objective")
}

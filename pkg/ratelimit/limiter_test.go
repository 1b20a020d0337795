package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when told, so window and refill arithmetic is
// deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(cfg Config, clock *fakeClock) *Limiter {
	l := New(cfg).WithClock(clock.Now)
	// The sleeper advances the fake clock instead of blocking.
	l.sleep = func(_ context.Context, d time.Duration) error {
		clock.Advance(d)
		return nil
	}
	l.lastRefill = clock.Now()
	l.minuteStart = clock.Now()
	l.dayStart = clock.Now()
	return l
}

func TestWait_ConsumesBucket(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(Config{RequestsPerMinute: 60, BurstLimit: 5, MaxConcurrent: 2}, clock)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background(), 1))
	}
	stats := l.Stats()
	assert.Equal(t, 5, stats.RequestCountMinute)
	assert.InDelta(t, 0, stats.Tokens, 0.001)
}

func TestWait_SleepsForRefill(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(Config{RequestsPerMinute: 60, BurstLimit: 2, MaxConcurrent: 1}, clock)

	require.NoError(t, l.Wait(context.Background(), 1))
	require.NoError(t, l.Wait(context.Background(), 1))

	before := clock.Now()
	require.NoError(t, l.Wait(context.Background(), 1))
	assert.True(t, clock.Now().After(before), "third wait must sleep for refill")
}

func TestWait_MinuteWindowRollover(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(Config{RequestsPerMinute: 60, BurstLimit: 10, MaxConcurrent: 1}, clock)

	require.NoError(t, l.Wait(context.Background(), 1))
	require.NoError(t, l.Wait(context.Background(), 1))
	assert.Equal(t, 2, l.Stats().RequestCountMinute)

	clock.Advance(61 * time.Second)
	require.NoError(t, l.Wait(context.Background(), 1))
	assert.Equal(t, 1, l.Stats().RequestCountMinute, "minute counter must reset after rollover")
}

func TestWait_DailyCapRaises(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(Config{RequestsPerMinute: 60, RequestsPerDay: 2, BurstLimit: 10, MaxConcurrent: 1}, clock)

	require.NoError(t, l.Wait(context.Background(), 1))
	require.NoError(t, l.Wait(context.Background(), 1))

	err := l.Wait(context.Background(), 1)
	require.Error(t, err)

	var rle *RateLimitExceededError
	require.ErrorAs(t, err, &rle)
	assert.True(t, rle.RetryAfter > 0)
}

func TestHandle429_BlocksThenRecovers(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(Config{RequestsPerMinute: 60, BurstLimit: 5, MaxConcurrent: 1, RetryAfter429: 10 * time.Second}, clock)

	l.Handle429(10 * time.Second)
	assert.InDelta(t, 0, l.Stats().Tokens, 0.001)

	// Wait must sleep through the hold and then through refill.
	require.NoError(t, l.Wait(context.Background(), 1))
	assert.True(t, clock.Now().Sub(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) >= 10*time.Second)
}

func TestAcquireWithTokens_PermitGate(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(Config{RequestsPerMinute: 60, BurstLimit: 10, MaxConcurrent: 1}, clock)

	p1, err := l.AcquireWithTokens(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.AcquireWithTokens(ctx, 1)
	assert.Error(t, err, "second acquire must block until the permit is released")

	p1.Release()
	p2, err := l.AcquireWithTokens(context.Background(), 1)
	require.NoError(t, err)
	p2.Release()
	p2.Release() // double release is a no-op
}

func TestRegistry_Memoizes(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	a := r.Get("openai", "gpt-4o")
	b := r.Get("openai", "gpt-4o")
	c := r.Get("anthropic", "claude")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.ElementsMatch(t, []string{"openai:gpt-4o", "anthropic:claude"}, r.Keys())
}

func TestInMemoryStore_Allow(t *testing.T) {
	s := NewInMemoryStore()
	policy := Policy{RPM: 60, Burst: 2}

	ok, err := s.Allow(context.Background(), "k", policy, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Allow(context.Background(), "k", policy, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Allow(context.Background(), "k", policy, 1)
	require.NoError(t, err)
	assert.False(t, ok, "burst exhausted")
}

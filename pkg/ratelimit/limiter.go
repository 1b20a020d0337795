// Package ratelimit guards LLM traffic with a per-key token bucket,
// per-minute and per-day request windows, and a concurrency gate. One
// limiter instance serializes all of its counters behind a single mutex.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config holds the provider quota for one limiter. Zero RequestsPerDay
// means unlimited.
type Config struct {
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerDay    int           `yaml:"requests_per_day" json:"requests_per_day"`
	TokensPerMinute   int           `yaml:"tokens_per_minute" json:"tokens_per_minute"`
	MaxConcurrent     int           `yaml:"max_concurrent" json:"max_concurrent"`
	BurstLimit        int           `yaml:"burst_limit" json:"burst_limit"`
	RetryAfter429     time.Duration `yaml:"retry_after_429" json:"retry_after_429"`
}

// DefaultConfig returns conservative defaults suitable for a single
// developer API key.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		RequestsPerDay:    0,
		TokensPerMinute:   90000,
		MaxConcurrent:     4,
		BurstLimit:        10,
		RetryAfter429:     30 * time.Second,
	}
}

// RateLimitExceededError means a hard quota (daily cap) was hit. Callers
// either wait RetryAfter or surface the error.
type RateLimitExceededError struct {
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("ratelimit: quota exceeded, retry after %s", e.RetryAfter)
}

// Limiter is the per-key rate limiter.
type Limiter struct {
	mu  sync.Mutex
	cfg Config

	tokens             float64
	lastRefill         time.Time
	minuteStart        time.Time
	requestCountMinute int
	tokenCountMinute   int
	dayStart           time.Time
	requestCountDay    int
	blockedUntil       time.Time

	sem   chan struct{}
	clock func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New creates a limiter with the given quota.
func New(cfg Config) *Limiter {
	if cfg.BurstLimit <= 0 {
		cfg.BurstLimit = 1
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	now := time.Now()
	return &Limiter{
		cfg:         cfg,
		tokens:      float64(cfg.BurstLimit),
		lastRefill:  now,
		minuteStart: now,
		dayStart:    now,
		sem:         make(chan struct{}, cfg.MaxConcurrent),
		clock:       time.Now,
		sleep:       sleepCtx,
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *Limiter) WithClock(clock func() time.Time) *Limiter {
	l.clock = clock
	return l
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// refillRate is tokens per second: the burst capacity spread over a minute.
func (l *Limiter) refillRate() float64 {
	return float64(l.cfg.BurstLimit) / 60.0
}

// rollWindows resets the minute and day counters when their windows have
// elapsed. Caller holds the mutex.
func (l *Limiter) rollWindows(now time.Time) {
	if now.Sub(l.minuteStart) >= time.Minute {
		l.minuteStart = now
		l.requestCountMinute = 0
		l.tokenCountMinute = 0
	}
	if now.Sub(l.dayStart) >= 24*time.Hour {
		l.dayStart = now
		l.requestCountDay = 0
	}
}

// Wait blocks until the bucket can supply the requested tokens, then
// consumes them and bumps the window counters. A hit daily cap raises
// RateLimitExceededError instead of blocking.
func (l *Limiter) Wait(ctx context.Context, tokens int) error {
	if tokens < 1 {
		tokens = 1
	}

	for {
		l.mu.Lock()
		now := l.clock()
		l.rollWindows(now)

		if l.cfg.RequestsPerDay > 0 && l.requestCountDay >= l.cfg.RequestsPerDay {
			retry := 24*time.Hour - now.Sub(l.dayStart)
			l.mu.Unlock()
			return &RateLimitExceededError{RetryAfter: retry}
		}

		// A 429 hold zeroes the bucket and pauses refill.
		if now.Before(l.blockedUntil) {
			wait := l.blockedUntil.Sub(now)
			l.mu.Unlock()
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		// Refill at burst/60 per second, capped at the burst capacity.
		elapsed := now.Sub(l.lastRefill).Seconds()
		l.tokens += elapsed * l.refillRate()
		if l.tokens > float64(l.cfg.BurstLimit) {
			l.tokens = float64(l.cfg.BurstLimit)
		}
		l.lastRefill = now

		if l.tokens < float64(tokens) {
			deficit := float64(tokens) - l.tokens
			wait := time.Duration(deficit / l.refillRate() * float64(time.Second))
			l.mu.Unlock()
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		l.tokens -= float64(tokens)
		l.requestCountMinute++
		l.requestCountDay++
		l.tokenCountMinute += tokens
		l.mu.Unlock()
		return nil
	}
}

// Permit is a held concurrency slot. Release returns it; releasing twice
// is a no-op.
type Permit struct {
	once sync.Once
	sem  chan struct{}
}

// Release returns the slot to the limiter.
func (p *Permit) Release() {
	p.once.Do(func() { <-p.sem })
}

// AcquireWithTokens is Wait plus a concurrency permit. The returned
// Permit must be released when the guarded call finishes.
func (l *Limiter) AcquireWithTokens(ctx context.Context, tokens int) (*Permit, error) {
	if err := l.Wait(ctx, tokens); err != nil {
		return nil, err
	}
	select {
	case l.sem <- struct{}{}:
		return &Permit{sem: l.sem}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Handle429 records a provider throttle response: the bucket is zeroed
// and all waiters block for retryAfter before refill resumes.
func (l *Limiter) Handle429(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = l.cfg.RetryAfter429
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	l.tokens = 0
	l.lastRefill = now.Add(retryAfter)
	l.blockedUntil = now.Add(retryAfter)
}

// Snapshot reports the current counters for observability and tests.
type Snapshot struct {
	Tokens             float64
	RequestCountMinute int
	TokenCountMinute   int
	RequestCountDay    int
}

// Stats returns a snapshot of the limiter counters.
func (l *Limiter) Stats() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		Tokens:             l.tokens,
		RequestCountMinute: l.requestCountMinute,
		TokenCountMinute:   l.tokenCountMinute,
		RequestCountDay:    l.requestCountDay,
	}
}

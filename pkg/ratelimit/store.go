package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Policy is the cross-process quota shape shared through a Store.
type Policy struct {
	RPM   int
	Burst int
}

// Store abstracts a shared token-bucket backend for deployments where
// several HiveForge processes draw on the same provider quota. The local
// Limiter remains authoritative for in-process pacing; the store adds a
// fleet-wide ceiling.
type Store interface {
	// Allow checks whether key may spend cost tokens under policy.
	Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error)
}

// InMemoryStore is a single-process Store for tests and standalone runs.
type InMemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*memBucket
}

type memBucket struct {
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{buckets: make(map[string]*memBucket)}
}

func (s *InMemoryStore) Allow(_ context.Context, key string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		rate := float64(policy.RPM) / 60.0
		if rate <= 0 {
			rate = 1
		}
		b = &memBucket{
			tokens:     float64(policy.Burst),
			capacity:   float64(policy.Burst),
			refillRate: rate,
			lastRefill: time.Now(),
		}
		s.buckets[key] = b
	}

	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now

	if b.tokens >= float64(cost) {
		b.tokens -= float64(cost)
		return true, nil
	}
	return false, nil
}

// redisTokenBucketScript runs the token bucket atomically in Redis.
// KEYS[1] = bucket key, ARGV = refill rate, capacity, cost, now (seconds).
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// RedisStore implements Store on Redis so multiple processes share one
// bucket per provider:model key.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store backed by the given Redis endpoint.
func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *RedisStore) Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error) {
	rate := float64(policy.RPM) / 60.0
	if rate <= 0 {
		rate = 1
	}
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := redisTokenBucketScript.Run(ctx, s.client,
		[]string{"limiter:" + key}, rate, policy.Burst, cost, now).Int64()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis store: %w", err)
	}
	return res == 1, nil
}

package llm

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// BackoffParams identify one retry attempt so its jitter is reproducible
// across replays of the same run.
type BackoffParams struct {
	Key          string
	AttemptIndex int
}

// BackoffPolicy bounds the exponential backoff schedule.
type BackoffPolicy struct {
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
}

// DefaultBackoffPolicy is the schedule used for provider 5xx responses.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{BaseMs: 500, MaxMs: 30000, MaxJitterMs: 250}
}

// ComputeBackoff returns base*2^attempt capped at MaxMs, plus
// deterministic jitter derived from the attempt identity.
func ComputeBackoff(params BackoffParams, policy BackoffPolicy) time.Duration {
	factor := int64(1)
	if params.AttemptIndex > 0 {
		if params.AttemptIndex > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << params.AttemptIndex
		}
	}

	delay := policy.BaseMs * factor
	if delay > policy.MaxMs {
		delay = policy.MaxMs
	}

	return time.Duration(delay+deterministicJitter(params, policy)) * time.Millisecond
}

// deterministicJitter is a PRF over the attempt identity. The same
// key and attempt always jitter by the same amount.
func deterministicJitter(params BackoffParams, policy BackoffPolicy) int64 {
	if policy.MaxJitterMs <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%d", params.Key, params.AttemptIndex)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])
	return int64(basis % uint64(policy.MaxJitterMs)) //nolint:gosec // MaxJitterMs is always positive
}

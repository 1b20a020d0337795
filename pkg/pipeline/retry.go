package pipeline

import (
	"math"
	"sync"
	"time"
)

// RetryStrategy controls which worker may re-attempt a failed task.
type RetryStrategy string

const (
	RetryNone            RetryStrategy = "none"
	RetrySameWorker      RetryStrategy = "same_worker"
	RetryDifferentWorker RetryStrategy = "different_worker"
	RetryAnyWorker       RetryStrategy = "any_worker"
)

// RetryPolicy bounds re-attempts of failed tasks.
type RetryPolicy struct {
	Strategy          RetryStrategy `yaml:"strategy" json:"strategy"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	BackoffSeconds    float64       `yaml:"backoff_seconds" json:"backoff_seconds"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`
}

// DefaultRetryPolicy retries twice on a different worker with a short
// growing backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Strategy:          RetryDifferentWorker,
		MaxRetries:        2,
		BackoffSeconds:    5,
		BackoffMultiplier: 2,
	}
}

// taskRetryState is the per-task record of past failures.
type taskRetryState struct {
	attempt       int
	failedWorkers map[string]struct{}
	lastError     string
	lastFailedAt  time.Time
}

// RetryManager tracks failures and answers whether and where a task may
// run again.
type RetryManager struct {
	mu     sync.Mutex
	policy RetryPolicy
	state  map[string]*taskRetryState
	clock  func() time.Time
}

// NewRetryManager creates a manager with the given policy.
func NewRetryManager(policy RetryPolicy) *RetryManager {
	return &RetryManager{
		policy: policy,
		state:  make(map[string]*taskRetryState),
		clock:  time.Now,
	}
}

// RecordFailure notes one failed attempt of the task on a worker.
func (m *RetryManager) RecordFailure(taskID, workerID, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state[taskID]
	if !ok {
		s = &taskRetryState{failedWorkers: make(map[string]struct{})}
		m.state[taskID] = s
	}
	s.attempt++
	if workerID != "" {
		s.failedWorkers[workerID] = struct{}{}
	}
	s.lastError = errMsg
	s.lastFailedAt = m.clock()
}

// ShouldRetry reports whether the task has retry budget left.
func (m *RetryManager) ShouldRetry(taskID string) bool {
	if m.policy.Strategy == RetryNone {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state[taskID]
	if !ok {
		return false
	}
	return s.attempt < m.policy.MaxRetries
}

// ExcludedWorkers returns the workers that must not receive the retry.
// Only the different_worker strategy excludes anyone.
func (m *RetryManager) ExcludedWorkers(taskID string) map[string]struct{} {
	if m.policy.Strategy != RetryDifferentWorker {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state[taskID]
	if !ok {
		return nil
	}
	out := make(map[string]struct{}, len(s.failedWorkers))
	for w := range s.failedWorkers {
		out[w] = struct{}{}
	}
	return out
}

// PreferredWorker returns the worker a retry should target, or empty
// when any worker will do. Only same_worker pins the retry.
func (m *RetryManager) PreferredWorker(taskID string) string {
	if m.policy.Strategy != RetrySameWorker {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state[taskID]
	if !ok || len(s.failedWorkers) == 0 {
		return ""
	}
	// The most recent failure is the pinned worker; with one worker per
	// attempt under same_worker the set has a single member.
	for w := range s.failedWorkers {
		return w
	}
	return ""
}

// BackoffFor returns the delay before attempt n: backoff * multiplier^(n-1).
func (m *RetryManager) BackoffFor(taskID string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state[taskID]
	if !ok || s.attempt == 0 {
		return 0
	}
	mult := m.policy.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	secs := m.policy.BackoffSeconds * math.Pow(mult, float64(s.attempt-1))
	return time.Duration(secs * float64(time.Second))
}

// Attempts returns how many times the task has failed so far.
func (m *RetryManager) Attempts(taskID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state[taskID]
	if !ok {
		return 0
	}
	return s.attempt
}

// LastError returns the most recent failure message for the task.
func (m *RetryManager) LastError(taskID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state[taskID]
	if !ok {
		return ""
	}
	return s.lastError
}

package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Orchestrator operations with health objectives.
const (
	OpPlan     = "plan"
	OpDispatch = "dispatch"
	OpExecute  = "execute"
	OpVerify   = "verify"
	OpAppend   = "append"
	OpLLMCall  = "llm_call"
)

// Objective is a latency and success target for one operation over a
// rolling window.
type Objective struct {
	Operation   string        `json:"operation"`
	LatencyP99  time.Duration `json:"latency_p99"`
	SuccessRate float64       `json:"success_rate"`
	Window      time.Duration `json:"window"`
}

// Observation is one completed operation.
type Observation struct {
	Operation string        `json:"operation"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
	Timestamp time.Time     `json:"timestamp"`
}

// Health reports an operation's standing against its objective.
type Health struct {
	Operation       string  `json:"operation"`
	P99Ms           float64 `json:"p99_ms"`
	SuccessRate     float64 `json:"success_rate"`
	InCompliance    bool    `json:"in_compliance"`
	BurnRate        float64 `json:"burn_rate"`
	ErrorBudgetLeft float64 `json:"error_budget_left"`
	Observations    int     `json:"observations"`
}

// HealthTracker accumulates observations and evaluates objectives. A
// burn rate above 1 means the error budget is being consumed faster
// than the objective allows.
type HealthTracker struct {
	mu           sync.Mutex
	objectives   map[string]Objective
	observations map[string][]Observation
	clock        func() time.Time
}

// NewHealthTracker creates an empty tracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		objectives:   make(map[string]Objective),
		observations: make(map[string][]Observation),
		clock:        time.Now,
	}
}

// WithClock injects a clock for tests.
func (t *HealthTracker) WithClock(clock func() time.Time) *HealthTracker {
	t.clock = clock
	return t
}

// SetObjective installs or replaces the objective for an operation.
func (t *HealthTracker) SetObjective(o Objective) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.objectives[o.Operation] = o
}

// Record adds one observation, stamping it if unstamped.
func (t *HealthTracker) Record(obs Observation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if obs.Timestamp.IsZero() {
		obs.Timestamp = t.clock()
	}
	t.observations[obs.Operation] = append(t.observations[obs.Operation], obs)
}

// Status evaluates one operation. No observations inside the window is
// vacuous compliance.
func (t *HealthTracker) Status(operation string) (*Health, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	objective, ok := t.objectives[operation]
	if !ok {
		return nil, fmt.Errorf("observability: no objective for operation %q", operation)
	}

	cutoff := t.clock().Add(-objective.Window)
	var windowed []Observation
	for _, obs := range t.observations[operation] {
		if obs.Timestamp.After(cutoff) {
			windowed = append(windowed, obs)
		}
	}
	if len(windowed) == 0 {
		return &Health{
			Operation:       operation,
			InCompliance:    true,
			ErrorBudgetLeft: 100,
		}, nil
	}

	successes := 0
	latencies := make([]float64, len(windowed))
	for i, obs := range windowed {
		latencies[i] = float64(obs.Latency.Milliseconds())
		if obs.Success {
			successes++
		}
	}
	sort.Float64s(latencies)

	p99Index := int(float64(len(latencies)) * 0.99)
	if p99Index >= len(latencies) {
		p99Index = len(latencies) - 1
	}
	p99 := latencies[p99Index]
	successRate := float64(successes) / float64(len(windowed))

	errorBudget := 1 - objective.SuccessRate
	errorRate := 1 - successRate
	var burnRate float64
	budgetLeft := 100.0
	if errorBudget > 0 {
		burnRate = errorRate / errorBudget
		budgetLeft = 100 * (1 - burnRate)
		if budgetLeft < 0 {
			budgetLeft = 0
		}
	}

	return &Health{
		Operation:       operation,
		P99Ms:           p99,
		SuccessRate:     successRate,
		InCompliance:    p99 <= float64(objective.LatencyP99.Milliseconds()) && successRate >= objective.SuccessRate,
		BurnRate:        burnRate,
		ErrorBudgetLeft: budgetLeft,
		Observations:    len(windowed),
	}, nil
}

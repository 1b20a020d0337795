package conflict

import (
	"fmt"
	"log/slog"
	"sort"
)

// Strategy names a resolution approach.
type Strategy string

const (
	StrategyFirstCome     Strategy = "first_come"
	StrategyPriorityBased Strategy = "priority_based"
	StrategyMerge         Strategy = "merge"
	StrategyAbortAll      Strategy = "abort_all"
	StrategyLockAndQueue  Strategy = "lock_and_queue"
	StrategyRetryLater    Strategy = "retry_later"
	StrategyManual        Strategy = "manual"
)

// Status is the outcome of a resolution attempt.
type Status string

const (
	StatusResolved  Status = "resolved"
	StatusQueued    Status = "queued"
	StatusRetry     Status = "retry"
	StatusAborted   Status = "aborted"
	StatusEscalated Status = "escalated"
)

// Resolution describes the decided outcome: which colony proceeds,
// which wait, which abort.
type Resolution struct {
	ConflictID string   `json:"conflict_id"`
	Strategy   Strategy `json:"strategy"`
	Status     Status   `json:"status"`
	Winner     string   `json:"winner,omitempty"`
	Queued     []string `json:"queued,omitempty"`
	Aborted    []string `json:"aborted,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// MergeRule combines conflicting claims for a resource type. Returning
// an error escalates the conflict.
type MergeRule func(Conflict) (Resolution, error)

// Resolver applies a configured strategy per conflict type.
type Resolver struct {
	strategies map[ConflictType]Strategy
	priorities map[string]int
	mergeRules map[string]MergeRule
	logger     *slog.Logger
}

// NewResolver creates a resolver; unknown conflict types fall back to
// first_come.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		strategies: make(map[ConflictType]Strategy),
		priorities: make(map[string]int),
		mergeRules: make(map[string]MergeRule),
		logger:     logger,
	}
}

// SetStrategy binds a strategy to a conflict type.
func (r *Resolver) SetStrategy(t ConflictType, s Strategy) { r.strategies[t] = s }

// SetPriority records a colony's priority for priority_based resolution.
func (r *Resolver) SetPriority(colonyID string, priority int) { r.priorities[colonyID] = priority }

// RegisterMergeRule installs a merge rule for a resource type.
func (r *Resolver) RegisterMergeRule(resourceType string, rule MergeRule) {
	r.mergeRules[resourceType] = rule
}

// Resolve applies the configured strategy. Unresolvable conflicts come
// back with status escalated rather than an error.
func (r *Resolver) Resolve(c Conflict) Resolution {
	strategy, ok := r.strategies[c.Type]
	if !ok {
		strategy = StrategyFirstCome
	}

	var res Resolution
	switch strategy {
	case StrategyFirstCome:
		res = r.firstCome(c)
	case StrategyPriorityBased:
		res = r.priorityBased(c)
	case StrategyMerge:
		res = r.merge(c)
	case StrategyAbortAll:
		res = r.abortAll(c)
	case StrategyLockAndQueue:
		res = r.lockAndQueue(c)
	case StrategyRetryLater:
		res = Resolution{Status: StatusRetry, Reason: "all claimants retry after backoff"}
	case StrategyManual:
		res = Resolution{Status: StatusEscalated, Reason: "manual resolution required"}
	default:
		res = Resolution{Status: StatusEscalated, Reason: fmt.Sprintf("unknown strategy %q", strategy)}
	}

	res.ConflictID = c.ID
	res.Strategy = strategy
	r.logger.Info("conflict resolved",
		"conflict_id", c.ID, "strategy", strategy, "status", res.Status, "winner", res.Winner)
	return res
}

func byClaimTime(claims []ResourceClaim) []ResourceClaim {
	out := make([]ResourceClaim, len(claims))
	copy(out, claims)
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClaimedAt.Equal(out[j].ClaimedAt) {
			return out[i].ColonyID < out[j].ColonyID
		}
		return out[i].ClaimedAt.Before(out[j].ClaimedAt)
	})
	return out
}

func losers(claims []ResourceClaim, winner string) []string {
	var out []string
	seen := map[string]struct{}{winner: {}}
	for _, c := range claims {
		if _, ok := seen[c.ColonyID]; ok {
			continue
		}
		seen[c.ColonyID] = struct{}{}
		out = append(out, c.ColonyID)
	}
	sort.Strings(out)
	return out
}

func (r *Resolver) firstCome(c Conflict) Resolution {
	ordered := byClaimTime(c.Claims)
	winner := ordered[0].ColonyID
	return Resolution{
		Status:  StatusResolved,
		Winner:  winner,
		Aborted: losers(c.Claims, winner),
		Reason:  "earliest claim wins",
	}
}

func (r *Resolver) priorityBased(c Conflict) Resolution {
	ordered := byClaimTime(c.Claims)
	winner := ordered[0].ColonyID
	best := r.priorities[winner]
	for _, claim := range ordered[1:] {
		if p := r.priorities[claim.ColonyID]; p > best {
			best = p
			winner = claim.ColonyID
		}
	}
	return Resolution{
		Status:  StatusResolved,
		Winner:  winner,
		Aborted: losers(c.Claims, winner),
		Reason:  fmt.Sprintf("highest priority %d wins", best),
	}
}

func (r *Resolver) merge(c Conflict) Resolution {
	resourceType := ""
	if len(c.Claims) > 0 {
		resourceType = c.Claims[0].ResourceType
	}
	rule, ok := r.mergeRules[resourceType]
	if !ok {
		return Resolution{Status: StatusEscalated, Reason: fmt.Sprintf("no merge rule for %q", resourceType)}
	}
	res, err := rule(c)
	if err != nil {
		return Resolution{Status: StatusEscalated, Reason: fmt.Sprintf("merge failed: %v", err)}
	}
	if res.Status == "" {
		res.Status = StatusResolved
	}
	return res
}

func (r *Resolver) abortAll(c Conflict) Resolution {
	return Resolution{
		Status:  StatusAborted,
		Aborted: losers(c.Claims, ""),
		Reason:  "all claimants aborted",
	}
}

func (r *Resolver) lockAndQueue(c Conflict) Resolution {
	ordered := byClaimTime(c.Claims)
	winner := ordered[0].ColonyID
	return Resolution{
		Status: StatusQueued,
		Winner: winner,
		Queued: losers(c.Claims, winner),
		Reason: "earliest claim holds the lock, rest queued",
	}
}

// Package conflict tracks resource claims across colonies and resolves
// contention before two colonies trample the same file, lock, or state.
package conflict

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Operation is what a colony intends to do with a resource.
type Operation string

const (
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpDelete Operation = "delete"
)

// ResourceClaim is one colony's declared intent on a resource.
type ResourceClaim struct {
	ColonyID     string    `json:"colony_id"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Operation    Operation `json:"operation"`
	Priority     int       `json:"priority"`
	ClaimedAt    time.Time `json:"claimed_at"`
}

// Severity ranks a conflict.
type Severity string

const (
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ConflictType classifies what kind of resource is contended.
type ConflictType string

const (
	ConflictFile  ConflictType = "file"
	ConflictLock  ConflictType = "lock"
	ConflictState ConflictType = "state"
)

// Conflict is a detected collision between claims on one resource.
type Conflict struct {
	ID         string          `json:"id"`
	ResourceID string          `json:"resource_id"`
	Type       ConflictType    `json:"conflict_type"`
	Severity   Severity        `json:"severity"`
	Claims     []ResourceClaim `json:"claims"`
	DetectedAt time.Time       `json:"detected_at"`
}

// Listener receives conflicts synchronously as they are detected.
type Listener func(Conflict)

// Detector is the claims registry. Safe for concurrent use.
type Detector struct {
	mu        sync.Mutex
	claims    map[string][]ResourceClaim
	listeners []Listener
	seq       int
	logger    *slog.Logger
	clock     func() time.Time
}

// NewDetector creates an empty registry.
func NewDetector(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		claims: make(map[string][]ResourceClaim),
		logger: logger,
		clock:  time.Now,
	}
}

// AddListener registers a synchronous conflict listener.
func (d *Detector) AddListener(l Listener) {
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()
}

// claimsConflict applies the pairwise rules: write/write, write/delete,
// delete/delete. Reads never conflict.
func claimsConflict(a, b ResourceClaim) bool {
	switch {
	case a.Operation == OpWrite && b.Operation == OpWrite:
		return true
	case a.Operation == OpDelete && b.Operation == OpWrite:
		return true
	case a.Operation == OpWrite && b.Operation == OpDelete:
		return true
	case a.Operation == OpDelete && b.Operation == OpDelete:
		return true
	}
	return false
}

// Claim registers a new claim and returns the conflict it creates, if
// any. Listeners fire synchronously before Claim returns; a panicking
// listener is logged and swallowed.
func (d *Detector) Claim(claim ResourceClaim) *Conflict {
	if claim.ClaimedAt.IsZero() {
		claim.ClaimedAt = d.clock()
	}

	d.mu.Lock()
	prior := d.claims[claim.ResourceID]

	var conflicting []ResourceClaim
	for _, p := range prior {
		if p.ColonyID == claim.ColonyID {
			continue
		}
		if claimsConflict(p, claim) {
			conflicting = append(conflicting, p)
		}
	}

	d.claims[claim.ResourceID] = append(prior, claim)

	if len(conflicting) == 0 {
		d.mu.Unlock()
		return nil
	}

	d.seq++
	all := append(conflicting, claim)
	conflict := Conflict{
		ID:         fmt.Sprintf("conflict-%d", d.seq),
		ResourceID: claim.ResourceID,
		Type:       inferType(claim.ResourceType),
		Severity:   inferSeverity(all),
		Claims:     all,
		DetectedAt: d.clock(),
	}
	listeners := make([]Listener, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.Unlock()

	for _, l := range listeners {
		d.notify(l, conflict)
	}
	return &conflict
}

func (d *Detector) notify(l Listener, c Conflict) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("conflict listener panicked", "conflict_id", c.ID, "panic", r)
		}
	}()
	l(c)
}

// Release drops all claims a colony holds on a resource.
func (d *Detector) Release(colonyID, resourceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.claims[resourceID][:0]
	for _, c := range d.claims[resourceID] {
		if c.ColonyID != colonyID {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		delete(d.claims, resourceID)
		return
	}
	d.claims[resourceID] = kept
}

// ActiveClaims returns the claims on a resource ordered by claim time.
func (d *Detector) ActiveClaims(resourceID string) []ResourceClaim {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ResourceClaim, len(d.claims[resourceID]))
	copy(out, d.claims[resourceID])
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimedAt.Before(out[j].ClaimedAt) })
	return out
}

func inferType(resourceType string) ConflictType {
	switch resourceType {
	case "file", "directory":
		return ConflictFile
	case "lock", "mutex":
		return ConflictLock
	default:
		return ConflictState
	}
}

// inferSeverity: CRITICAL when any claim deletes, HIGH when more than
// two colonies are involved, MEDIUM otherwise.
func inferSeverity(claims []ResourceClaim) Severity {
	colonies := make(map[string]struct{})
	for _, c := range claims {
		if c.Operation == OpDelete {
			return SeverityCritical
		}
		colonies[c.ColonyID] = struct{}{}
	}
	if len(colonies) > 2 {
		return SeverityHigh
	}
	return SeverityMedium
}

// Package bus is the in-process activity fabric: a fan-out publisher
// with bounded history, plus the silence detector that watches runs for
// stalled activity.
package bus

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActivityEvent is one observable action flowing through the bus. It is
// lighter than an Akashic event: no hashing, no durability.
type ActivityEvent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	AgentID   string         `json:"agent_id"`
	RunID     string         `json:"run_id,omitempty"`
	Kind      string         `json:"kind"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// SubscriberInfo describes a subscriber for the hierarchy view.
type SubscriberInfo struct {
	ID            string `json:"id"`
	AgentType     string `json:"agent_type"`
	ParentAgentID string `json:"parent_agent_id,omitempty"`
}

type subscriber struct {
	info    SubscriberInfo
	ch      chan ActivityEvent
	dropped int
}

const (
	defaultHistorySize = 256
	defaultQueueSize   = 64
)

// ActivityBus fans events out to subscribers and keeps a bounded ring of
// recent events. Slow subscribers lose the newest events rather than
// blocking publishers.
type ActivityBus struct {
	mu          sync.Mutex
	history     []ActivityEvent
	historyNext int
	historyFull bool
	subscribers map[string]*subscriber
	queueSize   int
	clock       func() time.Time
}

// BusOption customizes the bus.
type BusOption func(*ActivityBus)

// WithHistorySize sets the ring buffer capacity.
func WithHistorySize(n int) BusOption {
	return func(b *ActivityBus) { b.history = make([]ActivityEvent, n) }
}

// WithQueueSize sets the per-subscriber queue capacity.
func WithQueueSize(n int) BusOption {
	return func(b *ActivityBus) { b.queueSize = n }
}

// WithBusClock injects a clock for tests.
func WithBusClock(clock func() time.Time) BusOption {
	return func(b *ActivityBus) { b.clock = clock }
}

// NewActivityBus creates a bus with default sizes.
func NewActivityBus(opts ...BusOption) *ActivityBus {
	b := &ActivityBus{
		history:     make([]ActivityEvent, defaultHistorySize),
		subscribers: make(map[string]*subscriber),
		queueSize:   defaultQueueSize,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish records the event in history and offers it to every
// subscriber queue. A full queue drops this event for that subscriber.
func (b *ActivityBus) Publish(e ActivityEvent) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.clock().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.history[b.historyNext] = e
	b.historyNext = (b.historyNext + 1) % len(b.history)
	if b.historyNext == 0 {
		b.historyFull = true
	}

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- e:
		default:
			sub.dropped++
		}
	}
}

// Subscribe registers a subscriber and returns its queue plus an
// unsubscribe function. The queue closes on unsubscribe.
func (b *ActivityBus) Subscribe(info SubscriberInfo) (<-chan ActivityEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{info: info, ch: make(chan ActivityEvent, b.queueSize)}
	b.subscribers[info.ID] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if current, ok := b.subscribers[info.ID]; ok && current == sub {
			delete(b.subscribers, info.ID)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// Recent returns up to n of the newest events, oldest first.
func (b *ActivityBus) Recent(n int) []ActivityEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.historyNext
	if b.historyFull {
		size = len(b.history)
	}
	if n > size {
		n = size
	}
	if n <= 0 {
		return nil
	}

	out := make([]ActivityEvent, n)
	for i := 0; i < n; i++ {
		idx := (b.historyNext - n + i + len(b.history)) % len(b.history)
		out[i] = b.history[idx]
	}
	return out
}

// Dropped returns how many events a subscriber has lost to backpressure.
func (b *ActivityBus) Dropped(subscriberID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[subscriberID]; ok {
		return sub.dropped
	}
	return 0
}

// HierarchyNode is one agent in the rolled-up subscription tree.
type HierarchyNode struct {
	ID        string           `json:"id"`
	AgentType string           `json:"agent_type"`
	Children  []*HierarchyNode `json:"children,omitempty"`
}

// Hierarchy rolls subscription metadata into a forest: subscribers with
// no registered parent are roots. Children sort by id.
func (b *ActivityBus) Hierarchy() []*HierarchyNode {
	b.mu.Lock()
	defer b.mu.Unlock()

	nodes := make(map[string]*HierarchyNode, len(b.subscribers))
	for id, sub := range b.subscribers {
		nodes[id] = &HierarchyNode{ID: id, AgentType: sub.info.AgentType}
	}

	var roots []*HierarchyNode
	for id, sub := range b.subscribers {
		parent, ok := nodes[sub.info.ParentAgentID]
		if ok && sub.info.ParentAgentID != id {
			parent.Children = append(parent.Children, nodes[id])
		} else {
			roots = append(roots, nodes[id])
		}
	}

	var sortNodes func([]*HierarchyNode)
	sortNodes = func(ns []*HierarchyNode) {
		sort.Slice(ns, func(i, j int) bool { return ns[i].ID < ns[j].ID })
		for _, n := range ns {
			sortNodes(n.Children)
		}
	}
	sortNodes(roots)
	return roots
}

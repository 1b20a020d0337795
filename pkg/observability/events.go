package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/hiveforge-labs/hiveforge/pkg/akashic"
	"github.com/hiveforge-labs/hiveforge/pkg/event"
)

// EventMetrics counts durable appends per event type, both into the
// OTel pipeline and into a local table for quick inspection.
type EventMetrics struct {
	provider *Provider

	mu     sync.Mutex
	byType map[event.Type]int64
	total  int64
}

// NewEventMetrics creates the counter set. The provider may be a
// disabled one; local counting still works.
func NewEventMetrics(provider *Provider) *EventMetrics {
	return &EventMetrics{
		provider: provider,
		byType:   make(map[event.Type]int64),
	}
}

// Attach installs the metrics as the store's append observer.
func (m *EventMetrics) Attach(store *akashic.Store) {
	store.AppendObserver = m.Observe
}

// Observe records one appended event. Safe to call from any goroutine;
// must not block, so it only touches counters.
func (m *EventMetrics) Observe(stream string, e *event.Event) {
	m.mu.Lock()
	m.byType[e.Type]++
	m.total++
	m.mu.Unlock()

	if m.provider != nil && m.provider.eventCounter != nil {
		m.provider.eventCounter.Add(context.Background(), 1, metric.WithAttributes(
			AttrEventType.String(string(e.Type)),
			AttrStream.String(stream),
		))
	}
}

// Total returns the number of appends observed.
func (m *EventMetrics) Total() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// CountByType returns the appends observed for one event type.
func (m *EventMetrics) CountByType(t event.Type) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byType[t]
}

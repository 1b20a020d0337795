// Package sentinel is the stateless safety analyzer. It scans a window
// of events for loops, runaway rates, cost blowouts, and unconfirmed
// dangerous tool use, and converts its findings into audit events.
package sentinel

import (
	"fmt"
	"time"

	"github.com/hiveforge-labs/hiveforge/pkg/event"
	"github.com/hiveforge-labs/hiveforge/pkg/policy"
	"github.com/hiveforge-labs/hiveforge/pkg/projection"
)

// Severity ranks an alert. Critical alerts suspend the target colony.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertType names the detector that fired.
type AlertType string

const (
	AlertLoopDetected      AlertType = "loop_detected"
	AlertCyclicPattern     AlertType = "cyclic_pattern"
	AlertRunawayDetected   AlertType = "runaway_detected"
	AlertCostExceeded      AlertType = "cost_exceeded"
	AlertSecurityViolation AlertType = "security_violation"
)

// Alert is one finding from a detector pass.
type Alert struct {
	Type     AlertType `json:"type"`
	Severity Severity  `json:"severity"`
	ColonyID string    `json:"colony_id"`
	Message  string    `json:"message"`
	Detail   map[string]any
}

// Config bounds the detectors.
type Config struct {
	MaxLoopCount int           `yaml:"max_loop_count" json:"max_loop_count"`
	RateWindow   time.Duration `yaml:"rate_window" json:"rate_window"`
	MaxEventRate int           `yaml:"max_event_rate" json:"max_event_rate"`
	MaxCost      float64       `yaml:"max_cost" json:"max_cost"`
	MaxTokens    int           `yaml:"max_tokens" json:"max_tokens"`
}

// DefaultConfig returns the standard detector thresholds.
func DefaultConfig() Config {
	return Config{
		MaxLoopCount: 5,
		RateWindow:   60 * time.Second,
		MaxEventRate: 120,
		MaxCost:      10.0,
		MaxTokens:    500000,
	}
}

// Hornet runs the detectors. It holds no state between calls, so one
// instance may analyze any number of colonies concurrently.
type Hornet struct {
	cfg   Config
	clock func() time.Time
}

// New creates a Hornet with the given thresholds.
func New(cfg Config) *Hornet {
	if cfg.MaxLoopCount <= 0 {
		cfg.MaxLoopCount = DefaultConfig().MaxLoopCount
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = DefaultConfig().RateWindow
	}
	return &Hornet{cfg: cfg, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (h *Hornet) WithClock(clock func() time.Time) *Hornet {
	h.clock = clock
	return h
}

// CheckEvents runs all detectors in order over the window and returns
// the alerts found, loops first.
func (h *Hornet) CheckEvents(events []*event.Event, colonyID string) []Alert {
	var alerts []Alert
	alerts = append(alerts, h.detectLoops(events, colonyID)...)
	alerts = append(alerts, h.detectRunaway(events, colonyID)...)
	alerts = append(alerts, h.detectCost(events, colonyID)...)
	alerts = append(alerts, h.detectSecurity(events, colonyID)...)
	return alerts
}

// detectLoops flags tasks that keep failing and two-event cycles.
func (h *Hornet) detectLoops(events []*event.Event, colonyID string) []Alert {
	var alerts []Alert

	failures := make(map[string]int)
	for _, e := range events {
		if e.Type != event.TypeTaskFailed && e.Type != event.TypeColonyFailed {
			continue
		}
		key := e.TaskID
		if key == "" {
			key = e.ColonyID
		}
		failures[key]++
		if failures[key] == h.cfg.MaxLoopCount {
			alerts = append(alerts, Alert{
				Type:     AlertLoopDetected,
				Severity: SeverityCritical,
				ColonyID: colonyID,
				Message:  fmt.Sprintf("task %s failed %d times", key, h.cfg.MaxLoopCount),
				Detail:   map[string]any{"task_id": key, "failure_count": h.cfg.MaxLoopCount},
			})
		}
	}

	if alert := h.detectCycle(events, colonyID); alert != nil {
		alerts = append(alerts, *alert)
	}
	return alerts
}

// detectCycle inspects the last 2*MaxLoopCount event types for a strict
// two-type alternation.
func (h *Hornet) detectCycle(events []*event.Event, colonyID string) *Alert {
	window := 2 * h.cfg.MaxLoopCount
	if len(events) < window {
		return nil
	}
	tail := events[len(events)-window:]

	distinct := make(map[event.Type]struct{})
	evens := make(map[event.Type]struct{})
	odds := make(map[event.Type]struct{})
	for i, e := range tail {
		distinct[e.Type] = struct{}{}
		if i%2 == 0 {
			evens[e.Type] = struct{}{}
		} else {
			odds[e.Type] = struct{}{}
		}
	}
	if len(distinct) != 2 || len(evens) != 1 || len(odds) != 1 {
		return nil
	}

	return &Alert{
		Type:     AlertCyclicPattern,
		Severity: SeverityCritical,
		ColonyID: colonyID,
		Message:  fmt.Sprintf("cyclic pattern over last %d events", window),
		Detail:   map[string]any{"window": window},
	}
}

// detectRunaway counts events inside the trailing rate window.
func (h *Hornet) detectRunaway(events []*event.Event, colonyID string) []Alert {
	if h.cfg.MaxEventRate <= 0 {
		return nil
	}
	cutoff := h.clock().Add(-h.cfg.RateWindow)
	count := 0
	for _, e := range events {
		if e.Timestamp.After(cutoff) {
			count++
		}
	}
	if count <= h.cfg.MaxEventRate {
		return nil
	}
	return []Alert{{
		Type:     AlertRunawayDetected,
		Severity: SeverityCritical,
		ColonyID: colonyID,
		Message:  fmt.Sprintf("%d events in %s exceeds limit %d", count, h.cfg.RateWindow, h.cfg.MaxEventRate),
		Detail:   map[string]any{"event_count": count, "max_event_rate": h.cfg.MaxEventRate},
	}}
}

// detectCost sums spend and token usage across llm.response events.
func (h *Hornet) detectCost(events []*event.Event, colonyID string) []Alert {
	var cost float64
	var tokens int
	for _, e := range events {
		if e.Type != event.TypeLLMResponse {
			continue
		}
		cost += payloadFloat(e.Payload, "cost")
		tokens += int(payloadFloat(e.Payload, "tokens_used"))
	}
	if h.cfg.MaxCost <= 0 || cost <= h.cfg.MaxCost {
		return nil
	}
	return []Alert{{
		Type:     AlertCostExceeded,
		Severity: SeverityCritical,
		ColonyID: colonyID,
		Message:  fmt.Sprintf("cost %.4f exceeds budget %.4f", cost, h.cfg.MaxCost),
		Detail:   map[string]any{"cost": cost, "tokens_used": tokens, "max_cost": h.cfg.MaxCost},
	}}
}

// detectSecurity flags irreversible tool use that was never confirmed.
func (h *Hornet) detectSecurity(events []*event.Event, colonyID string) []Alert {
	var alerts []Alert
	for _, e := range events {
		if e.Type != event.TypeWorkerStarted {
			continue
		}
		tool, _ := e.Payload["tool_name"].(string)
		if tool == "" {
			continue
		}
		class := policy.Classify(tool)
		if class == policy.ReadOnly {
			continue
		}
		if class != policy.Irreversible {
			continue
		}
		if confirmed, _ := e.Payload["confirmed"].(bool); confirmed {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertSecurityViolation,
			Severity: SeverityCritical,
			ColonyID: colonyID,
			Message:  fmt.Sprintf("unconfirmed irreversible tool %q", tool),
			Detail:   map[string]any{"tool_name": tool, "worker_id": e.WorkerID},
		})
	}
	return alerts
}

func payloadFloat(payload map[string]any, key string) float64 {
	if f, ok := projection.Numeric(payload[key]); ok {
		return f
	}
	return 0
}

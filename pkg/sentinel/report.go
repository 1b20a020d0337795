package sentinel

import (
	"context"
	"fmt"

	"github.com/hiveforge-labs/hiveforge/pkg/akashic"
	"github.com/hiveforge-labs/hiveforge/pkg/event"
)

const actor = "sentinel_hornet"

// ConvertAlerts appends the audit events for a detector pass to the run
// stream: one sentinel.alert_raised per alert, and for each critical
// alert a colony.suspended for the target colony.
func ConvertAlerts(ctx context.Context, store *akashic.Store, runID string, alerts []Alert) ([]*event.Event, error) {
	var appended []*event.Event
	for _, a := range alerts {
		raised, err := event.New(event.TypeSentinelAlertRaised, actor, map[string]any{
			"alert_type": string(a.Type),
			"severity":   string(a.Severity),
			"message":    a.Message,
			"detail":     a.Detail,
		}, event.WithRunID(runID), event.WithColonyID(a.ColonyID))
		if err != nil {
			return appended, fmt.Errorf("sentinel: build alert event: %w", err)
		}
		if err := store.Append(ctx, raised); err != nil {
			return appended, err
		}
		appended = append(appended, raised)

		if a.Severity != SeverityCritical || a.ColonyID == "" {
			continue
		}
		suspended, err := event.New(event.TypeColonySuspended, actor, map[string]any{
			"reason":     a.Message,
			"alert_type": string(a.Type),
		}, event.WithRunID(runID), event.WithColonyID(a.ColonyID))
		if err != nil {
			return appended, fmt.Errorf("sentinel: build suspension event: %w", err)
		}
		if err := store.Append(ctx, suspended); err != nil {
			return appended, err
		}
		appended = append(appended, suspended)
	}
	return appended, nil
}

// Report appends a sentinel.report event summarizing alert counts by
// type since the last report.
func Report(ctx context.Context, store *akashic.Store, runID string, alerts []Alert) (*event.Event, error) {
	counts := make(map[string]any)
	critical := 0
	for _, a := range alerts {
		key := string(a.Type)
		n, _ := counts[key].(int)
		counts[key] = n + 1
		if a.Severity == SeverityCritical {
			critical++
		}
	}

	e, err := event.New(event.TypeSentinelReport, actor, map[string]any{
		"total_alerts":    len(alerts),
		"critical_alerts": critical,
		"by_type":         counts,
	}, event.WithRunID(runID))
	if err != nil {
		return nil, fmt.Errorf("sentinel: build report event: %w", err)
	}
	if err := store.Append(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

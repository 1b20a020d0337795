package projection

import (
	"github.com/hiveforge-labs/hiveforge/pkg/event"
)

// HiveState is the lifecycle state of a hive view.
type HiveState string

const (
	HiveActive HiveState = "active"
	HiveIdle   HiveState = "idle"
	HiveClosed HiveState = "closed"
)

// ColonyState is the lifecycle state of a colony view.
type ColonyState string

const (
	ColonyPending    ColonyState = "pending"
	ColonyInProgress ColonyState = "in_progress"
	ColonyCompleted  ColonyState = "completed"
	ColonyFailed     ColonyState = "failed"
	ColonySuspended  ColonyState = "suspended"
)

// ColonyView is the per-colony view inside a hive aggregate.
type ColonyView struct {
	ColonyID string         `json:"colony_id"`
	State    ColonyState    `json:"state"`
	Goal     string         `json:"goal,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// HiveAggregate is the materialized view of a hive stream.
type HiveAggregate struct {
	HiveID   string                `json:"hive_id"`
	Name     string                `json:"name"`
	State    HiveState             `json:"state"`
	Colonies map[string]ColonyView `json:"colonies"`
}

// HiveProjector maintains a HiveAggregate view.
type HiveProjector struct {
	view     HiveAggregate
	handlers map[event.Type]func(*HiveAggregate, *event.Event)
}

// NewHiveProjector creates a projector for the given hive id.
func NewHiveProjector(hiveID string) *HiveProjector {
	p := &HiveProjector{
		view: HiveAggregate{
			HiveID:   hiveID,
			State:    HiveActive,
			Colonies: make(map[string]ColonyView),
		},
	}
	p.handlers = map[event.Type]func(*HiveAggregate, *event.Event){
		event.TypeHiveCreated:     applyHiveCreated,
		event.TypeHiveClosed:      applyHiveClosed,
		event.TypeColonyCreated:   applyColonyCreated,
		event.TypeColonyStarted:   applyColonyStarted,
		event.TypeColonySuspended: applyColonySuspended,
		event.TypeColonyCompleted: applyColonyCompleted,
		event.TypeColonyFailed:    applyColonyFailed,
	}
	return p
}

func (p *HiveProjector) Apply(e *event.Event) {
	if h, ok := p.handlers[e.Type]; ok {
		h(&p.view, e)
	}
}

// View returns a value snapshot of the current projection.
func (p *HiveProjector) View() HiveAggregate {
	snapshot := p.view
	snapshot.Colonies = make(map[string]ColonyView, len(p.view.Colonies))
	for k, v := range p.view.Colonies {
		snapshot.Colonies[k] = v
	}
	return snapshot
}

// BuildHive folds an event list into a HiveAggregate view.
func BuildHive(events []*event.Event, hiveID string) HiveAggregate {
	p := NewHiveProjector(hiveID)
	for _, e := range events {
		p.Apply(e)
	}
	return p.View()
}

func applyHiveCreated(v *HiveAggregate, e *event.Event) {
	v.State = HiveActive
	if name, ok := e.Payload["name"].(string); ok {
		v.Name = name
	}
}

func applyHiveClosed(v *HiveAggregate, _ *event.Event) {
	v.State = HiveClosed
}

func colonyID(e *event.Event) string {
	if e.ColonyID != "" {
		return e.ColonyID
	}
	return str(e.Payload["colony_id"])
}

func applyColonyCreated(v *HiveAggregate, e *event.Event) {
	id := colonyID(e)
	if id == "" {
		return
	}
	c := ColonyView{ColonyID: id, State: ColonyPending}
	if goal, ok := e.Payload["goal"].(string); ok {
		c.Goal = goal
	}
	if meta, ok := e.Payload["metadata"].(map[string]any); ok {
		c.Metadata = meta
	}
	v.Colonies[id] = c
	if v.State == HiveIdle {
		v.State = HiveActive
	}
}

func applyColonyStarted(v *HiveAggregate, e *event.Event) {
	mutateColony(v, e, ColonyInProgress)
}

func applyColonySuspended(v *HiveAggregate, e *event.Event) {
	mutateColony(v, e, ColonySuspended)
}

func applyColonyCompleted(v *HiveAggregate, e *event.Event) {
	mutateColony(v, e, ColonyCompleted)
	if v.State == HiveActive && v.allColoniesSettled() {
		v.State = HiveIdle
	}
}

func applyColonyFailed(v *HiveAggregate, e *event.Event) {
	mutateColony(v, e, ColonyFailed)
}

func mutateColony(v *HiveAggregate, e *event.Event, state ColonyState) {
	id := colonyID(e)
	if id == "" {
		return
	}
	c, ok := v.Colonies[id]
	if !ok {
		c = ColonyView{ColonyID: id}
	}
	c.State = state
	v.Colonies[id] = c
}

func (v *HiveAggregate) allColoniesSettled() bool {
	for _, c := range v.Colonies {
		if c.State == ColonyPending || c.State == ColonyInProgress || c.State == ColonySuspended {
			return false
		}
	}
	return true
}

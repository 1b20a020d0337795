// Package projection folds Akashic Record streams into read-side views.
// Projections are pure functions of the event list and never the source
// of truth: changing one means appending a new event, never writing back.
package projection

import (
	"time"

	"github.com/hiveforge-labs/hiveforge/pkg/event"
)

// RunState is the lifecycle state of a run view.
type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunAborted   RunState = "aborted"
)

// TaskState is the lifecycle state of a task view.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskInProgress TaskState = "in_progress"
	TaskBlocked    TaskState = "blocked"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
)

// RequirementState is the decision state of a requirement view.
type RequirementState string

const (
	RequirementPending  RequirementState = "pending"
	RequirementApproved RequirementState = "approved"
	RequirementRejected RequirementState = "rejected"
)

// Task is the per-task view inside a run.
type Task struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	State        TaskState `json:"state"`
	Assignee     string    `json:"assignee,omitempty"`
	Progress     float64   `json:"progress"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	CompletedAt  time.Time `json:"completed_at,omitzero"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Requirement is the per-requirement view inside a run.
type Requirement struct {
	ID          string           `json:"id"`
	Description string           `json:"description"`
	State       RequirementState `json:"state"`
	CreatedAt   time.Time        `json:"created_at"`
	DecidedAt   time.Time        `json:"decided_at,omitzero"`
	DecidedBy   string           `json:"decided_by,omitempty"`
}

// Run is the materialized view of a single run stream.
type Run struct {
	ID            string                 `json:"id"`
	Goal          string                 `json:"goal"`
	State         RunState               `json:"state"`
	Tasks         map[string]Task        `json:"tasks"`
	Requirements  map[string]Requirement `json:"requirements"`
	StartedAt     time.Time              `json:"started_at,omitzero"`
	CompletedAt   time.Time              `json:"completed_at,omitzero"`
	LastHeartbeat time.Time              `json:"last_heartbeat,omitzero"`
	EventCount    int                    `json:"event_count"`
}

// RunProjector maintains a Run view by applying events one at a time.
type RunProjector struct {
	view     Run
	handlers map[event.Type]func(*Run, *event.Event)
}

// NewRunProjector creates a projector for the given run id.
func NewRunProjector(runID string) *RunProjector {
	p := &RunProjector{
		view: Run{
			ID:           runID,
			State:        RunRunning,
			Tasks:        make(map[string]Task),
			Requirements: make(map[string]Requirement),
		},
	}
	p.handlers = map[event.Type]func(*Run, *event.Event){
		event.TypeRunStarted:          applyRunStarted,
		event.TypeRunCompleted:        applyRunCompleted,
		event.TypeRunFailed:           applyRunFailed,
		event.TypeRunAborted:          applyRunAborted,
		event.TypeSystemEmergencyStop: applyRunAborted,
		event.TypeTaskCreated:         applyTaskCreated,
		event.TypeTaskAssigned:        applyTaskAssigned,
		event.TypeTaskProgressed:      applyTaskProgressed,
		event.TypeTaskCompleted:       applyTaskCompleted,
		event.TypeTaskFailed:          applyTaskFailed,
		event.TypeTaskBlocked:         applyTaskBlocked,
		event.TypeTaskUnblocked:       applyTaskUnblocked,
		event.TypeRequirementCreated:  applyRequirementCreated,
		event.TypeRequirementApproved: applyRequirementApproved,
		event.TypeRequirementRejected: applyRequirementRejected,
		event.TypeSystemHeartbeat:     applyHeartbeat,
	}
	return p
}

// Apply folds a single event into the view. Unknown types only bump the
// event count.
func (p *RunProjector) Apply(e *event.Event) {
	p.view.EventCount++
	if h, ok := p.handlers[e.Type]; ok {
		h(&p.view, e)
	}
}

// View returns a value snapshot of the current projection.
func (p *RunProjector) View() Run {
	snapshot := p.view
	snapshot.Tasks = make(map[string]Task, len(p.view.Tasks))
	for k, v := range p.view.Tasks {
		snapshot.Tasks[k] = v
	}
	snapshot.Requirements = make(map[string]Requirement, len(p.view.Requirements))
	for k, v := range p.view.Requirements {
		snapshot.Requirements[k] = v
	}
	return snapshot
}

// BuildRun folds an event list into a Run view. Equivalent to replaying
// the stream through a fresh projector.
func BuildRun(events []*event.Event, runID string) Run {
	p := NewRunProjector(runID)
	for _, e := range events {
		p.Apply(e)
	}
	return p.View()
}

func applyRunStarted(v *Run, e *event.Event) {
	v.State = RunRunning
	v.StartedAt = e.Timestamp
	if goal, ok := e.Payload["goal"].(string); ok {
		v.Goal = goal
	}
}

func applyRunCompleted(v *Run, e *event.Event) {
	v.State = RunCompleted
	v.CompletedAt = e.Timestamp
}

func applyRunFailed(v *Run, e *event.Event) {
	v.State = RunFailed
	v.CompletedAt = e.Timestamp
}

func applyRunAborted(v *Run, e *event.Event) {
	v.State = RunAborted
	v.CompletedAt = e.Timestamp
}

func taskID(e *event.Event) string {
	if e.TaskID != "" {
		return e.TaskID
	}
	if id, ok := e.Payload["task_id"].(string); ok {
		return id
	}
	return ""
}

func applyTaskCreated(v *Run, e *event.Event) {
	id := taskID(e)
	if id == "" {
		return
	}
	t := Task{
		ID:        id,
		State:     TaskPending,
		CreatedAt: e.Timestamp,
		UpdatedAt: e.Timestamp,
	}
	if title, ok := e.Payload["title"].(string); ok {
		t.Title = title
	}
	v.Tasks[id] = t
}

func applyTaskAssigned(v *Run, e *event.Event) {
	mutateTask(v, e, func(t *Task) {
		t.State = TaskInProgress
		if assignee, ok := e.Payload["assignee"].(string); ok {
			t.Assignee = assignee
		}
	})
}

func applyTaskProgressed(v *Run, e *event.Event) {
	mutateTask(v, e, func(t *Task) {
		if p, ok := Numeric(e.Payload["progress"]); ok {
			t.Progress = clampProgress(p)
		}
	})
}

func applyTaskCompleted(v *Run, e *event.Event) {
	mutateTask(v, e, func(t *Task) {
		t.State = TaskCompleted
		t.Progress = 100
		t.CompletedAt = e.Timestamp
	})
}

func applyTaskFailed(v *Run, e *event.Event) {
	mutateTask(v, e, func(t *Task) {
		t.State = TaskFailed
		if msg, ok := e.Payload["error"].(string); ok {
			t.ErrorMessage = msg
		} else if msg, ok := e.Payload["reason"].(string); ok {
			t.ErrorMessage = msg
		}
	})
}

func applyTaskBlocked(v *Run, e *event.Event) {
	mutateTask(v, e, func(t *Task) { t.State = TaskBlocked })
}

func applyTaskUnblocked(v *Run, e *event.Event) {
	mutateTask(v, e, func(t *Task) { t.State = TaskInProgress })
}

func mutateTask(v *Run, e *event.Event, fn func(*Task)) {
	id := taskID(e)
	if id == "" {
		return
	}
	t, ok := v.Tasks[id]
	if !ok {
		t = Task{ID: id, State: TaskPending, CreatedAt: e.Timestamp}
	}
	fn(&t)
	t.UpdatedAt = e.Timestamp
	v.Tasks[id] = t
}

func requirementID(e *event.Event) string {
	if id, ok := e.Payload["requirement_id"].(string); ok {
		return id
	}
	return ""
}

func applyRequirementCreated(v *Run, e *event.Event) {
	id := requirementID(e)
	if id == "" {
		return
	}
	r := Requirement{ID: id, State: RequirementPending, CreatedAt: e.Timestamp}
	if desc, ok := e.Payload["description"].(string); ok {
		r.Description = desc
	}
	v.Requirements[id] = r
}

func applyRequirementApproved(v *Run, e *event.Event) {
	decideRequirement(v, e, RequirementApproved)
}

func applyRequirementRejected(v *Run, e *event.Event) {
	decideRequirement(v, e, RequirementRejected)
}

func decideRequirement(v *Run, e *event.Event, state RequirementState) {
	id := requirementID(e)
	if id == "" {
		return
	}
	r, ok := v.Requirements[id]
	if !ok {
		r = Requirement{ID: id, CreatedAt: e.Timestamp}
	}
	r.State = state
	r.DecidedAt = e.Timestamp
	r.DecidedBy = e.Actor
	v.Requirements[id] = r
}

func applyHeartbeat(v *Run, e *event.Event) {
	v.LastHeartbeat = e.Timestamp
}

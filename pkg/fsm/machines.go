package fsm

import (
	"github.com/hiveforge-labs/hiveforge/pkg/event"
)

// Run machine states.
const (
	RunRunning   State = "RUNNING"
	RunCompleted State = "COMPLETED"
	RunFailed    State = "FAILED"
	RunAborted   State = "ABORTED"
)

// NewRunMachine builds the run lifecycle machine. All three terminal
// states are reached from RUNNING; emergency stop routes to ABORTED.
func NewRunMachine() *Machine {
	return NewMachine(RunRunning, []Transition{
		{From: RunRunning, To: RunCompleted, EventType: event.TypeRunCompleted},
		{From: RunRunning, To: RunFailed, EventType: event.TypeRunFailed},
		{From: RunRunning, To: RunAborted, EventType: event.TypeRunAborted},
		{From: RunRunning, To: RunAborted, EventType: event.TypeSystemEmergencyStop},
	})
}

// Task machine states.
const (
	TaskPending    State = "PENDING"
	TaskInProgress State = "IN_PROGRESS"
	TaskBlocked    State = "BLOCKED"
	TaskCompleted  State = "COMPLETED"
	TaskFailed     State = "FAILED"
)

// TaskMachine wraps the generic machine with retry bookkeeping: the
// FAILED->PENDING edge (a task.created event re-enqueues the task) is
// guarded by retry_count < max_retries, and the counter increments only
// when that transition succeeds.
type TaskMachine struct {
	*Machine
	retryCount int
	maxRetries int
}

// NewTaskMachine builds a task lifecycle machine with the given retry cap.
func NewTaskMachine(maxRetries int) *TaskMachine {
	tm := &TaskMachine{maxRetries: maxRetries}
	tm.Machine = NewMachine(TaskPending, []Transition{
		{From: TaskPending, To: TaskInProgress, EventType: event.TypeTaskAssigned},
		{From: TaskInProgress, To: TaskBlocked, EventType: event.TypeTaskBlocked},
		{From: TaskInProgress, To: TaskCompleted, EventType: event.TypeTaskCompleted},
		{From: TaskInProgress, To: TaskFailed, EventType: event.TypeTaskFailed},
		{From: TaskBlocked, To: TaskInProgress, EventType: event.TypeTaskUnblocked},
		{From: TaskFailed, To: TaskPending, EventType: event.TypeTaskCreated,
			Guard: func(*event.Event) bool { return tm.retryCount < tm.maxRetries }},
	})
	return tm
}

// Transition applies an event and bumps the retry counter on a
// successful FAILED->PENDING re-enqueue.
func (tm *TaskMachine) Transition(e *event.Event) (State, error) {
	from := tm.Current()
	to, err := tm.Machine.Transition(e)
	if err != nil {
		return to, err
	}
	if from == TaskFailed && to == TaskPending {
		tm.retryCount++
	}
	return to, nil
}

// RetryCount returns the number of successful retries so far.
func (tm *TaskMachine) RetryCount() int { return tm.retryCount }

// Requirement machine states.
const (
	RequirementPending  State = "PENDING"
	RequirementApproved State = "APPROVED"
	RequirementRejected State = "REJECTED"
)

// NewRequirementMachine builds the requirement decision machine.
func NewRequirementMachine() *Machine {
	return NewMachine(RequirementPending, []Transition{
		{From: RequirementPending, To: RequirementApproved, EventType: event.TypeRequirementApproved},
		{From: RequirementPending, To: RequirementRejected, EventType: event.TypeRequirementRejected},
	})
}

// Hive machine states.
const (
	HiveActive State = "ACTIVE"
	HiveIdle   State = "IDLE"
	HiveClosed State = "CLOSED"
)

// NewHiveMachine builds the hive lifecycle machine. CLOSED is terminal.
func NewHiveMachine() *Machine {
	return NewMachine(HiveActive, []Transition{
		{From: HiveActive, To: HiveIdle, EventType: event.TypeColonyCompleted},
		{From: HiveIdle, To: HiveActive, EventType: event.TypeColonyCreated},
		{From: HiveActive, To: HiveClosed, EventType: event.TypeHiveClosed},
		{From: HiveIdle, To: HiveClosed, EventType: event.TypeHiveClosed},
	})
}

// Colony machine states.
const (
	ColonyPending    State = "PENDING"
	ColonyInProgress State = "IN_PROGRESS"
	ColonyCompleted  State = "COMPLETED"
	ColonyFailed     State = "FAILED"
	ColonySuspended  State = "SUSPENDED"
)

// NewColonyMachine builds the colony lifecycle machine.
func NewColonyMachine() *Machine {
	return NewMachine(ColonyPending, []Transition{
		{From: ColonyPending, To: ColonyInProgress, EventType: event.TypeColonyStarted},
		{From: ColonyInProgress, To: ColonyCompleted, EventType: event.TypeColonyCompleted},
		{From: ColonyInProgress, To: ColonyFailed, EventType: event.TypeColonyFailed},
		{From: ColonyInProgress, To: ColonySuspended, EventType: event.TypeColonySuspended},
		{From: ColonySuspended, To: ColonyInProgress, EventType: event.TypeColonyStarted},
		{From: ColonySuspended, To: ColonyFailed, EventType: event.TypeColonyFailed},
	})
}

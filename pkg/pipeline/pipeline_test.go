package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveforge-labs/hiveforge/pkg/akashic"
	"github.com/hiveforge-labs/hiveforge/pkg/event"
	"github.com/hiveforge-labs/hiveforge/pkg/llm"
	"github.com/hiveforge-labs/hiveforge/pkg/policy"
)

type cannedClient struct {
	content string
}

func (c *cannedClient) Chat(_ context.Context, _ []llm.Message, _ []llm.ToolDefinition, _ *llm.SamplingOptions) (*llm.Response, error) {
	return &llm.Response{Content: c.content}, nil
}

func TestPlanner_ValidPlan(t *testing.T) {
	p, err := NewPlanner(&cannedClient{content: `{
		"tasks": [
			{"id": "T1", "goal": "design the schema"},
			{"id": "T2", "goal": "implement handlers", "depends_on": ["T1"]}
		],
		"reasoning": "schema first"
	}`})
	require.NoError(t, err)

	plan, err := p.PlanGoal(context.Background(), "build the service")
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 2)
	assert.Equal(t, "schema first", plan.Reasoning)
}

func TestPlanner_EmptyPlanFallsBack(t *testing.T) {
	p, err := NewPlanner(&cannedClient{content: `{"tasks": []}`})
	require.NoError(t, err)

	plan, err := p.PlanGoal(context.Background(), "do the thing")
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "do the thing", plan.Tasks[0].Goal)
}

func TestValidatePlan_Rules(t *testing.T) {
	_, err := ValidatePlan(&Plan{Tasks: []PlannedTask{
		{ID: "T1", Goal: "step one", DependsOn: []string{"T9"}},
	}}, "g")
	var pe *PlanError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Reason, "unknown task T9")

	_, err = ValidatePlan(&Plan{Tasks: []PlannedTask{
		{ID: "T1", Goal: "same"},
		{ID: "T2", Goal: "same"},
	}}, "g")
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Reason, "share goal")

	_, err = ValidatePlan(&Plan{Tasks: []PlannedTask{
		{ID: "T1", Goal: "first", DependsOn: []string{"T2"}},
		{ID: "T2", Goal: "second", DependsOn: []string{"T1"}},
	}}, "g")
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Reason, "cycle")
}

func TestValidatePlan_CapAndGeneratedIDs(t *testing.T) {
	var tasks []PlannedTask
	for i := 0; i < 14; i++ {
		tasks = append(tasks, PlannedTask{Goal: fmt.Sprintf("task number %d", i)})
	}
	plan, err := ValidatePlan(&Plan{Tasks: tasks}, "g")
	require.NoError(t, err)
	assert.Len(t, plan.Tasks, 10, "plans are truncated at the cap")
	assert.Equal(t, "T1", plan.Tasks[0].ID)
	assert.Equal(t, "T10", plan.Tasks[9].ID)
}

func TestExecutionOrder_Layers(t *testing.T) {
	plan := &Plan{Tasks: []PlannedTask{
		{ID: "T1", Goal: "a"},
		{ID: "T2", Goal: "b"},
		{ID: "T3", Goal: "c", DependsOn: []string{"T1", "T2"}},
		{ID: "T4", Goal: "d", DependsOn: []string{"T3"}},
	}}
	layers, err := ExecutionOrder(plan)
	require.NoError(t, err)
	require.Len(t, layers, 3)
	assert.Equal(t, []string{"T1", "T2"}, layers[0])
	assert.Equal(t, []string{"T3"}, layers[1])
	assert.Equal(t, []string{"T4"}, layers[2])
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *akashic.Store) {
	t.Helper()
	store, err := akashic.NewStore(t.TempDir())
	require.NoError(t, err)
	return NewDispatcher(store, nil), store
}

func TestDispatcher_PrefersNamedWorker(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.RegisterWorker("W1")
	d.RegisterWorker("W2")

	id, err := d.Dispatch(context.Background(), "R1", PlannedTask{ID: "T1", Goal: "g"}, "W2")
	require.NoError(t, err)
	assert.Equal(t, "W2", id)
}

func TestDispatcher_ExperienceHeuristic(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.RegisterWorker("W1")
	d.RegisterWorker("W2")

	// W2 completes a task, making it the most experienced.
	done, err := event.New(event.TypeWorkerCompleted, "test", nil,
		event.WithWorkerID("W2"), event.WithTaskID("T0"))
	require.NoError(t, err)
	d.Observe(done)

	id, err := d.Dispatch(context.Background(), "R1", PlannedTask{ID: "T1", Goal: "g"}, "")
	require.NoError(t, err)
	assert.Equal(t, "W2", id)
}

func TestDispatcher_TiesBreakByID(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.RegisterWorker("W2")
	d.RegisterWorker("W1")

	id, err := d.Dispatch(context.Background(), "R1", PlannedTask{ID: "T1", Goal: "g"}, "")
	require.NoError(t, err)
	assert.Equal(t, "W1", id)
}

func TestDispatcher_NoIdleWorkers(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.RegisterWorker("W1")

	_, err := d.Dispatch(context.Background(), "R1", PlannedTask{ID: "T1", Goal: "g"}, "")
	require.NoError(t, err)

	id, err := d.Dispatch(context.Background(), "R1", PlannedTask{ID: "T2", Goal: "h"}, "")
	require.NoError(t, err)
	assert.Empty(t, id, "busy pool yields no assignment")
}

func TestRetryManager(t *testing.T) {
	m := NewRetryManager(RetryPolicy{
		Strategy:          RetryDifferentWorker,
		MaxRetries:        3,
		BackoffSeconds:    5,
		BackoffMultiplier: 2,
	})

	assert.False(t, m.ShouldRetry("T1"), "no failures yet")

	m.RecordFailure("T1", "W1", "boom")
	assert.True(t, m.ShouldRetry("T1"))
	assert.Equal(t, 5e9, float64(m.BackoffFor("T1")), "attempt 1: 5s")

	m.RecordFailure("T1", "W2", "boom again")
	assert.True(t, m.ShouldRetry("T1"))
	assert.Equal(t, 10e9, float64(m.BackoffFor("T1")), "attempt 2: 10s")

	m.RecordFailure("T1", "W3", "still broken")
	assert.False(t, m.ShouldRetry("T1"), "attempts reached max")

	excluded := m.ExcludedWorkers("T1")
	assert.Len(t, excluded, 3)
	_, hasW1 := excluded["W1"]
	assert.True(t, hasW1)
	assert.Equal(t, "still broken", m.LastError("T1"))
}

func TestRetryManager_StrategyNone(t *testing.T) {
	m := NewRetryManager(RetryPolicy{Strategy: RetryNone, MaxRetries: 5})
	m.RecordFailure("T1", "W1", "x")
	assert.False(t, m.ShouldRetry("T1"))
}

func TestRetryManager_SameWorkerPins(t *testing.T) {
	m := NewRetryManager(RetryPolicy{Strategy: RetrySameWorker, MaxRetries: 2})
	m.RecordFailure("T1", "W1", "x")
	assert.Equal(t, "W1", m.PreferredWorker("T1"))
	assert.Nil(t, m.ExcludedWorkers("T1"), "same_worker excludes nobody")
}

func newTestPipeline(t *testing.T, policy RetryPolicy) (*Pipeline, *akashic.Store) {
	t.Helper()
	store, err := akashic.NewStore(t.TempDir())
	require.NoError(t, err)
	p := New(store, policy, nil)
	return p, store
}

func TestExecute_HappyPath(t *testing.T) {
	p, store := newTestPipeline(t, DefaultRetryPolicy())
	p.Dispatcher().RegisterWorker("W1")
	p.Dispatcher().RegisterWorker("W2")

	plan := &Plan{Tasks: []PlannedTask{
		{ID: "T1", Goal: "first"},
		{ID: "T2", Goal: "second", DependsOn: []string{"T1"}},
	}}

	outcome, err := p.Execute(context.Background(), "R1", "goal", plan,
		func(_ context.Context, _ PlannedTask, _ string) error { return nil },
		ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome.Status)
	assert.Equal(t, []string{"T1", "T2"}, outcome.CompletedTasks)

	events, err := store.ReadAll(context.Background(), "R1")
	require.NoError(t, err)
	var completions int
	for _, e := range events {
		if e.Type == event.TypeTaskCompleted {
			completions++
		}
	}
	assert.Equal(t, 2, completions)
}

func TestExecute_InvalidPlanFailsRunOnRecord(t *testing.T) {
	p, store := newTestPipeline(t, DefaultRetryPolicy())
	p.Dispatcher().RegisterWorker("W1")

	cyclic := &Plan{Tasks: []PlannedTask{
		{ID: "T1", Goal: "first step", DependsOn: []string{"T2"}},
		{ID: "T2", Goal: "second step", DependsOn: []string{"T1"}},
	}}

	outcome, err := p.Execute(context.Background(), "R1", "goal", cyclic,
		func(_ context.Context, _ PlannedTask, _ string) error { return nil },
		ExecuteOptions{})
	require.Error(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, OutcomeFailed, outcome.Status)

	events, readErr := store.ReadAll(context.Background(), "R1")
	require.NoError(t, readErr)
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeRunFailed, events[0].Type)
	assert.Equal(t, err.Error(), events[0].Payload["reason"])
}

func TestExecute_RetryMovesToDifferentWorker(t *testing.T) {
	p, _ := newTestPipeline(t, RetryPolicy{
		Strategy:   RetryDifferentWorker,
		MaxRetries: 2,
	})
	p.Dispatcher().RegisterWorker("W1")
	p.Dispatcher().RegisterWorker("W2")

	var attempts []string
	worker := func(_ context.Context, _ PlannedTask, workerID string) error {
		attempts = append(attempts, workerID)
		if workerID == "W1" {
			return errors.New("W1 cannot do this")
		}
		return nil
	}

	plan := &Plan{Tasks: []PlannedTask{{ID: "T1", Goal: "fragile"}}}
	outcome, err := p.Execute(context.Background(), "R1", "goal", plan, worker, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome.Status)
	require.Len(t, attempts, 2)
	assert.Equal(t, "W1", attempts[0])
	assert.Equal(t, "W2", attempts[1], "retry must land on a different worker")
}

func TestExecute_BudgetExhaustedFails(t *testing.T) {
	p, store := newTestPipeline(t, RetryPolicy{Strategy: RetryAnyWorker, MaxRetries: 1})
	p.Dispatcher().RegisterWorker("W1")

	worker := func(_ context.Context, _ PlannedTask, _ string) error {
		return errors.New("always broken")
	}

	plan := &Plan{Tasks: []PlannedTask{{ID: "T1", Goal: "doomed"}}}
	outcome, err := p.Execute(context.Background(), "R1", "goal", plan, worker, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome.Status)
	assert.Equal(t, []string{"T1"}, outcome.FailedTasks)

	events, err := store.ReadAll(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, event.TypeTaskFailed, events[len(events)-1].Type)
}

func TestExecute_ApprovalGate(t *testing.T) {
	p, _ := newTestPipeline(t, DefaultRetryPolicy())
	p.Dispatcher().RegisterWorker("W1")

	plan := &Plan{Tasks: []PlannedTask{{ID: "T1", Goal: "remove the old data"}}}
	opts := ExecuteOptions{
		TrustLevel: policy.AutoNotify,
		ActionOf:   func(PlannedTask) string { return "delete_file" },
	}

	executed := false
	worker := func(_ context.Context, _ PlannedTask, _ string) error {
		executed = true
		return nil
	}

	outcome, err := p.Execute(context.Background(), "R1", "goal", plan, worker, opts)
	var are *ApprovalRequiredError
	require.ErrorAs(t, err, &are)
	assert.Equal(t, "delete_file", are.Action)
	assert.Equal(t, 1, are.TaskCount)
	assert.Equal(t, OutcomeApprovalPending, outcome.Status)
	assert.False(t, executed, "gated task must not run")
	assert.Contains(t, p.PendingApprovals(), are.RequestID)

	// Approval resumes and bypasses the gate.
	resumed, err := p.ResumeWithApproval(context.Background(), are.RequestID, true, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, resumed.Status)
	assert.True(t, executed)
	assert.Empty(t, p.PendingApprovals())
}

func TestResumeWithApproval_Rejection(t *testing.T) {
	p, _ := newTestPipeline(t, DefaultRetryPolicy())
	p.Dispatcher().RegisterWorker("W1")

	plan := &Plan{Tasks: []PlannedTask{{ID: "T1", Goal: "drop everything"}}}
	opts := ExecuteOptions{
		TrustLevel: policy.ReportOnly,
		ActionOf:   func(PlannedTask) string { return "drop_table" },
	}

	_, err := p.Execute(context.Background(), "R1", "goal", plan,
		func(_ context.Context, _ PlannedTask, _ string) error { return nil }, opts)
	var are *ApprovalRequiredError
	require.ErrorAs(t, err, &are)

	outcome, err := p.ResumeWithApproval(context.Background(), are.RequestID, false, "too risky")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome.Status)

	_, err = p.ResumeWithApproval(context.Background(), are.RequestID, true, "")
	assert.Error(t, err, "settled request id is unknown")
}

func TestExecute_FullDelegationSkip(t *testing.T) {
	p, _ := newTestPipeline(t, DefaultRetryPolicy())
	p.Dispatcher().RegisterWorker("W1")

	plan := &Plan{Tasks: []PlannedTask{{ID: "T1", Goal: "clean up artifacts"}}}
	opts := ExecuteOptions{
		TrustLevel:            policy.FullDelegation,
		AllowIrreversibleSkip: true,
		ActionOf:              func(PlannedTask) string { return "delete_file" },
	}

	outcome, err := p.Execute(context.Background(), "R1", "goal", plan,
		func(_ context.Context, _ PlannedTask, _ string) error { return nil }, opts)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome.Status)
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hiveforge-labs/hiveforge/pkg/akashic"
	"github.com/hiveforge-labs/hiveforge/pkg/event"
	"github.com/hiveforge-labs/hiveforge/pkg/policy"
	"github.com/hiveforge-labs/hiveforge/pkg/projection"
)

// WorkerFunc executes one task on the assigned worker and returns the
// task's error, if any.
type WorkerFunc func(ctx context.Context, task PlannedTask, workerID string) error

// ApprovalRequiredError halts the pipeline before an irreversible task
// runs without sufficient trust.
type ApprovalRequiredError struct {
	RequestID string
	Action    string
	TaskCount int
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("pipeline: approval %s required before irreversible action %q", e.RequestID, e.Action)
}

// OutcomeStatus summarizes a pipeline run.
type OutcomeStatus string

const (
	OutcomeCompleted       OutcomeStatus = "completed"
	OutcomePartial         OutcomeStatus = "partial"
	OutcomeFailed          OutcomeStatus = "failed"
	OutcomeApprovalPending OutcomeStatus = "approval_pending"
)

// Outcome is the result of one Execute call.
type Outcome struct {
	Status            OutcomeStatus `json:"status"`
	CompletedTasks    []string      `json:"completed_tasks"`
	FailedTasks       []string      `json:"failed_tasks"`
	ApprovalRequestID string        `json:"approval_request_id,omitempty"`
}

// ExecuteOptions tunes one pipeline run.
type ExecuteOptions struct {
	TrustLevel            policy.TrustLevel
	AllowIrreversibleSkip bool
	// ActionOf maps a task to the tool it will primarily use, for the
	// approval gate. Nil means every task is treated as reversible.
	ActionOf func(PlannedTask) string
	// approvalToken bypasses the gate on resume.
	approvalToken string
}

// pendingApproval is the stored context for a halted run.
type pendingApproval struct {
	runID  string
	goal   string
	plan   *Plan
	opts   ExecuteOptions
	worker WorkerFunc
	action string
}

// Pipeline drives plan execution layer by layer.
type Pipeline struct {
	store      *akashic.Store
	dispatcher *Dispatcher
	retry      *RetryManager
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingApproval
}

// New creates a pipeline over the store with the given retry policy.
func New(store *akashic.Store, retryPolicy RetryPolicy, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:      store,
		dispatcher: NewDispatcher(store, logger),
		retry:      NewRetryManager(retryPolicy),
		logger:     logger,
		pending:    make(map[string]*pendingApproval),
	}
}

// Dispatcher exposes the pipeline's worker pool for registration.
func (p *Pipeline) Dispatcher() *Dispatcher { return p.dispatcher }

// Execute runs the plan layer by layer. Irreversible tasks below the
// trust threshold halt the run with OutcomeApprovalPending; the caller
// resumes via ResumeWithApproval.
func (p *Pipeline) Execute(ctx context.Context, runID, goal string, plan *Plan, worker WorkerFunc, opts ExecuteOptions) (*Outcome, error) {
	layers, err := ExecutionOrder(plan)
	if err != nil {
		// An unexecutable plan fails the whole run on the record.
		failed, buildErr := event.New(event.TypeRunFailed, "pipeline", map[string]any{
			"reason": err.Error(),
		}, event.WithRunID(runID))
		if buildErr != nil {
			return nil, buildErr
		}
		if appendErr := p.store.Append(ctx, failed); appendErr != nil {
			return nil, appendErr
		}
		return &Outcome{Status: OutcomeFailed}, err
	}
	tasksByID := make(map[string]PlannedTask, len(plan.Tasks))
	for _, t := range plan.Tasks {
		tasksByID[t.ID] = t
	}

	if opts.approvalToken == "" {
		if approvalErr := p.checkApprovalGate(runID, goal, plan, worker, opts); approvalErr != nil {
			return &Outcome{
				Status:            OutcomeApprovalPending,
				ApprovalRequestID: approvalErr.RequestID,
			}, approvalErr
		}
	}

	outcome := &Outcome{}
	for _, layer := range layers {
		for _, taskID := range layer {
			task := tasksByID[taskID]
			if err := p.runTask(ctx, runID, task, worker); err != nil {
				outcome.FailedTasks = append(outcome.FailedTasks, taskID)
			} else {
				outcome.CompletedTasks = append(outcome.CompletedTasks, taskID)
			}
		}
	}

	switch {
	case len(outcome.FailedTasks) == 0:
		outcome.Status = OutcomeCompleted
	case len(outcome.CompletedTasks) == 0:
		outcome.Status = OutcomeFailed
	default:
		outcome.Status = OutcomePartial
	}
	return outcome, nil
}

// checkApprovalGate scans the plan for irreversible work that the
// current trust level may not run unattended.
func (p *Pipeline) checkApprovalGate(runID, goal string, plan *Plan, worker WorkerFunc, opts ExecuteOptions) *ApprovalRequiredError {
	if opts.ActionOf == nil {
		return nil
	}
	for _, task := range plan.Tasks {
		tool := opts.ActionOf(task)
		if tool == "" {
			continue
		}
		class, decision := policy.DecideTool(tool, opts.TrustLevel,
			policy.Options{AllowIrreversibleSkip: opts.AllowIrreversibleSkip})
		if class != policy.Irreversible || decision != policy.Confirm {
			continue
		}

		requestID := uuid.NewString()
		p.mu.Lock()
		p.pending[requestID] = &pendingApproval{
			runID:  runID,
			goal:   goal,
			plan:   plan,
			opts:   opts,
			worker: worker,
			action: tool,
		}
		p.mu.Unlock()

		p.logger.Warn("pipeline halted for approval",
			"run_id", runID, "action", tool, "request_id", requestID)
		return &ApprovalRequiredError{
			RequestID: requestID,
			Action:    tool,
			TaskCount: len(plan.Tasks),
		}
	}
	return nil
}

// ResumeWithApproval settles a pending approval. Rejection removes the
// pending entry and returns a failed outcome; approval re-invokes the
// pipeline with the gate bypassed.
func (p *Pipeline) ResumeWithApproval(ctx context.Context, requestID string, approved bool, reason string) (*Outcome, error) {
	p.mu.Lock()
	pending, ok := p.pending[requestID]
	if ok {
		delete(p.pending, requestID)
	}
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("pipeline: unknown approval request %s", requestID)
	}

	if !approved {
		p.logger.Info("approval rejected",
			"run_id", pending.runID, "request_id", requestID, "reason", reason)
		return &Outcome{Status: OutcomeFailed}, nil
	}

	opts := pending.opts
	opts.approvalToken = requestID
	return p.Execute(ctx, pending.runID, pending.goal, pending.plan, pending.worker, opts)
}

// PendingApprovals lists the outstanding approval request ids.
func (p *Pipeline) PendingApprovals() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.pending))
	for id := range p.pending {
		out = append(out, id)
	}
	return out
}

// runTask dispatches, executes, and retries one task until it completes
// or the retry budget is spent.
func (p *Pipeline) runTask(ctx context.Context, runID string, task PlannedTask, worker WorkerFunc) error {
	preferred := ""
	for {
		excluded := p.retry.ExcludedWorkers(task.ID)
		workerID := p.dispatchExcluding(ctx, runID, task, preferred, excluded)
		if workerID == "" {
			p.retry.RecordFailure(task.ID, "", "no worker available")
			if !p.retry.ShouldRetry(task.ID) {
				return p.recordTaskFailed(ctx, runID, task, "no worker available")
			}
			continue
		}

		err := worker(ctx, task, workerID)
		if err == nil {
			return p.recordTaskCompleted(ctx, runID, task, workerID)
		}

		p.retry.RecordFailure(task.ID, workerID, err.Error())
		if err := p.recordWorkerFailed(ctx, runID, task, workerID, err); err != nil {
			return err
		}
		if !p.retry.ShouldRetry(task.ID) {
			return p.recordTaskFailed(ctx, runID, task, err.Error())
		}
		preferred = p.retry.PreferredWorker(task.ID)

		if wait := p.retry.BackoffFor(task.ID); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// dispatchExcluding wraps Dispatch with a worker exclusion set for
// different_worker retries.
func (p *Pipeline) dispatchExcluding(ctx context.Context, runID string, task PlannedTask, preferred string, excluded map[string]struct{}) string {
	if len(excluded) == 0 {
		id, err := p.dispatcher.Dispatch(ctx, runID, task, preferred)
		if err != nil {
			p.logger.Error("dispatch failed", "task_id", task.ID, "error", err)
			return ""
		}
		return id
	}

	// Candidate selection ignores excluded workers by probing the pool
	// view directly.
	view := p.dispatcher.Pool()
	best := ""
	bestDone := -1
	for id, w := range view.Workers {
		if _, skip := excluded[id]; skip {
			continue
		}
		if w.State != projection.WorkerIdle {
			continue
		}
		done := len(w.CompletedTasks)
		if done > bestDone || (done == bestDone && id < best) {
			best = id
			bestDone = done
		}
	}
	if best == "" {
		return ""
	}
	id, err := p.dispatcher.Dispatch(ctx, runID, task, best)
	if err != nil {
		p.logger.Error("dispatch failed", "task_id", task.ID, "error", err)
		return ""
	}
	return id
}

func (p *Pipeline) recordTaskCompleted(ctx context.Context, runID string, task PlannedTask, workerID string) error {
	completed, err := event.New(event.TypeWorkerCompleted, "pipeline", nil,
		event.WithRunID(runID), event.WithTaskID(task.ID), event.WithWorkerID(workerID))
	if err != nil {
		return err
	}
	if err := p.store.Append(ctx, completed); err != nil {
		return err
	}
	p.dispatcher.Observe(completed)

	taskDone, err := event.New(event.TypeTaskCompleted, "pipeline", nil,
		event.WithRunID(runID), event.WithTaskID(task.ID), event.WithWorkerID(workerID))
	if err != nil {
		return err
	}
	return p.store.Append(ctx, taskDone)
}

func (p *Pipeline) recordWorkerFailed(ctx context.Context, runID string, task PlannedTask, workerID string, taskErr error) error {
	failed, err := event.New(event.TypeWorkerFailed, "pipeline", map[string]any{
		"error": taskErr.Error(),
	}, event.WithRunID(runID), event.WithTaskID(task.ID), event.WithWorkerID(workerID))
	if err != nil {
		return err
	}
	if err := p.store.Append(ctx, failed); err != nil {
		return err
	}
	p.dispatcher.Observe(failed)
	return nil
}

func (p *Pipeline) recordTaskFailed(ctx context.Context, runID string, task PlannedTask, reason string) error {
	failed, err := event.New(event.TypeTaskFailed, "pipeline", map[string]any{
		"error": reason,
	}, event.WithRunID(runID), event.WithTaskID(task.ID))
	if err != nil {
		return err
	}
	if err := p.store.Append(ctx, failed); err != nil {
		return err
	}
	return fmt.Errorf("pipeline: task %s failed: %s", task.ID, reason)
}

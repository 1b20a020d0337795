package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hiveforge-labs/hiveforge/pkg/akashic"
	"github.com/hiveforge-labs/hiveforge/pkg/event"
	"github.com/hiveforge-labs/hiveforge/pkg/projection"
)

// Dispatcher assigns tasks to workers from its pool view and records
// each assignment in the run stream.
type Dispatcher struct {
	store  *akashic.Store
	pool   *projection.WorkerPoolProjector
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher over the given store.
func NewDispatcher(store *akashic.Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:  store,
		pool:   projection.NewWorkerPoolProjector(),
		logger: logger,
	}
}

// RegisterWorker adds an idle worker to the pool.
func (d *Dispatcher) RegisterWorker(workerID string) {
	d.pool.Register(workerID)
}

// Observe folds an event into the pool view. The dispatcher's own
// assignment events pass through here too, so the view stays a pure
// projection of the stream.
func (d *Dispatcher) Observe(e *event.Event) {
	d.pool.Apply(e)
}

// Pool returns a snapshot of the worker pool view.
func (d *Dispatcher) Pool() projection.WorkerPool {
	return d.pool.View()
}

// selectWorker picks the assignee: the preferred worker when idle, else
// the idle worker with the most completed tasks, ties broken by id.
// Returns empty when no worker is available.
func (d *Dispatcher) selectWorker(preferred string) string {
	view := d.pool.View()

	if preferred != "" {
		if w, ok := view.Workers[preferred]; ok && w.State == projection.WorkerIdle {
			return preferred
		}
	}

	var idle []projection.Worker
	for _, w := range view.Workers {
		if w.State == projection.WorkerIdle {
			idle = append(idle, w)
		}
	}
	if len(idle) == 0 {
		return ""
	}
	sort.Slice(idle, func(i, j int) bool {
		if len(idle[i].CompletedTasks) != len(idle[j].CompletedTasks) {
			return len(idle[i].CompletedTasks) > len(idle[j].CompletedTasks)
		}
		return idle[i].WorkerID < idle[j].WorkerID
	})
	return idle[0].WorkerID
}

// Dispatch assigns the task to a worker, appends worker.assigned and
// task.assigned to the run stream, and updates the pool view. Returns
// the assignee, or empty when no worker is idle.
func (d *Dispatcher) Dispatch(ctx context.Context, runID string, task PlannedTask, preferred string) (string, error) {
	workerID := d.selectWorker(preferred)
	if workerID == "" {
		return "", nil
	}

	assigned, err := event.New(event.TypeWorkerAssigned, "dispatcher", map[string]any{
		"goal": task.Goal,
	},
		event.WithRunID(runID),
		event.WithTaskID(task.ID),
		event.WithWorkerID(workerID),
	)
	if err != nil {
		return "", fmt.Errorf("pipeline: build assignment event: %w", err)
	}
	if err := d.store.Append(ctx, assigned); err != nil {
		return "", err
	}
	d.pool.Apply(assigned)

	taskAssigned, err := event.New(event.TypeTaskAssigned, "dispatcher", map[string]any{
		"assignee": workerID,
	},
		event.WithRunID(runID),
		event.WithTaskID(task.ID),
		event.WithWorkerID(workerID),
	)
	if err != nil {
		return "", fmt.Errorf("pipeline: build task assignment event: %w", err)
	}
	if err := d.store.Append(ctx, taskAssigned); err != nil {
		return "", err
	}

	d.logger.Info("task dispatched",
		"run_id", runID, "task_id", task.ID, "worker_id", workerID)
	return workerID, nil
}

package projection

import (
	"github.com/hiveforge-labs/hiveforge/pkg/event"
)

// WorkerState is the lifecycle state of a worker view.
type WorkerState string

const (
	WorkerIdle      WorkerState = "idle"
	WorkerWorking   WorkerState = "working"
	WorkerCompleted WorkerState = "completed"
	WorkerFailed    WorkerState = "failed"
	WorkerError     WorkerState = "error"
)

// Worker is the per-worker view inside the pool.
type Worker struct {
	WorkerID       string      `json:"worker_id"`
	State          WorkerState `json:"state"`
	CurrentTaskID  string      `json:"current_task_id,omitempty"`
	CurrentRunID   string      `json:"current_run_id,omitempty"`
	Progress       float64     `json:"progress"`
	CompletedTasks []string    `json:"completed_tasks"`
	FailedTasks    []string    `json:"failed_tasks"`
}

// WorkerPool is the materialized view of the worker fleet.
type WorkerPool struct {
	Workers map[string]Worker `json:"workers"`
}

// WorkerPoolProjector maintains the pool view. Workers join the pool via
// Register (dispatcher bootstrap) or implicitly on their first event.
type WorkerPoolProjector struct {
	view     WorkerPool
	handlers map[event.Type]func(*WorkerPool, *event.Event)
}

// NewWorkerPoolProjector creates an empty pool projector.
func NewWorkerPoolProjector() *WorkerPoolProjector {
	p := &WorkerPoolProjector{
		view: WorkerPool{Workers: make(map[string]Worker)},
	}
	p.handlers = map[event.Type]func(*WorkerPool, *event.Event){
		event.TypeWorkerAssigned:  applyWorkerAssigned,
		event.TypeWorkerStarted:   applyWorkerStarted,
		event.TypeWorkerProgress:  applyWorkerProgress,
		event.TypeWorkerCompleted: applyWorkerCompleted,
		event.TypeWorkerFailed:    applyWorkerFailed,
	}
	return p
}

// Register adds an idle worker to the pool if absent.
func (p *WorkerPoolProjector) Register(workerID string) {
	if _, ok := p.view.Workers[workerID]; ok {
		return
	}
	p.view.Workers[workerID] = Worker{
		WorkerID:       workerID,
		State:          WorkerIdle,
		CompletedTasks: []string{},
		FailedTasks:    []string{},
	}
}

func (p *WorkerPoolProjector) Apply(e *event.Event) {
	if h, ok := p.handlers[e.Type]; ok {
		h(&p.view, e)
	}
}

// View returns a value snapshot of the pool.
func (p *WorkerPoolProjector) View() WorkerPool {
	snapshot := WorkerPool{Workers: make(map[string]Worker, len(p.view.Workers))}
	for k, v := range p.view.Workers {
		w := v
		w.CompletedTasks = append([]string(nil), v.CompletedTasks...)
		w.FailedTasks = append([]string(nil), v.FailedTasks...)
		snapshot.Workers[k] = w
	}
	return snapshot
}

// Get returns a value copy of one worker's view.
func (p *WorkerPoolProjector) Get(workerID string) (Worker, bool) {
	w, ok := p.view.Workers[workerID]
	if !ok {
		return Worker{}, false
	}
	w.CompletedTasks = append([]string(nil), w.CompletedTasks...)
	w.FailedTasks = append([]string(nil), w.FailedTasks...)
	return w, true
}

// BuildWorkerPool folds an event list into a pool view.
func BuildWorkerPool(events []*event.Event) WorkerPool {
	p := NewWorkerPoolProjector()
	for _, e := range events {
		p.Apply(e)
	}
	return p.View()
}

func workerID(e *event.Event) string {
	if e.WorkerID != "" {
		return e.WorkerID
	}
	return str(e.Payload["worker_id"])
}

func mutateWorker(v *WorkerPool, e *event.Event, fn func(*Worker)) {
	id := workerID(e)
	if id == "" {
		return
	}
	w, ok := v.Workers[id]
	if !ok {
		w = Worker{WorkerID: id, State: WorkerIdle, CompletedTasks: []string{}, FailedTasks: []string{}}
	}
	fn(&w)
	v.Workers[id] = w
}

func applyWorkerAssigned(v *WorkerPool, e *event.Event) {
	mutateWorker(v, e, func(w *Worker) {
		w.State = WorkerWorking
		w.CurrentTaskID = taskID(e)
		w.CurrentRunID = e.RunID
		w.Progress = 0
	})
}

func applyWorkerStarted(v *WorkerPool, e *event.Event) {
	mutateWorker(v, e, func(w *Worker) {
		w.State = WorkerWorking
		if w.CurrentTaskID == "" {
			w.CurrentTaskID = taskID(e)
		}
	})
}

func applyWorkerProgress(v *WorkerPool, e *event.Event) {
	mutateWorker(v, e, func(w *Worker) {
		if p, ok := Numeric(e.Payload["progress"]); ok {
			w.Progress = clampProgress(p)
		}
	})
}

func applyWorkerCompleted(v *WorkerPool, e *event.Event) {
	mutateWorker(v, e, func(w *Worker) {
		if t := taskID(e); t != "" {
			w.CompletedTasks = append(w.CompletedTasks, t)
		} else if w.CurrentTaskID != "" {
			w.CompletedTasks = append(w.CompletedTasks, w.CurrentTaskID)
		}
		w.State = WorkerIdle
		w.CurrentTaskID = ""
		w.CurrentRunID = ""
		w.Progress = 0
	})
}

func applyWorkerFailed(v *WorkerPool, e *event.Event) {
	mutateWorker(v, e, func(w *Worker) {
		if t := taskID(e); t != "" {
			w.FailedTasks = append(w.FailedTasks, t)
		} else if w.CurrentTaskID != "" {
			w.FailedTasks = append(w.FailedTasks, w.CurrentTaskID)
		}
		w.State = WorkerIdle
		w.CurrentTaskID = ""
		w.CurrentRunID = ""
		w.Progress = 0
	})
}

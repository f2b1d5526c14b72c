// Package registry tracks in-flight evaluation tasks for polling clients.
//
// The registry is a process-lifetime cache, not a source of truth: it does
// not survive restarts, and the paper store remains authoritative. Its one
// job is enforcing at most one live evaluation per paper id.
package registry

import (
	"sync"
	"time"

	"github.com/paperlens/paperlens/internal/paper"
)

// Task is the transient record of an in-flight or recently finished
// evaluation.
type Task struct {
	ArxivID    string                 `json:"arxiv_id"`
	Status     paper.EvaluationStatus `json:"status"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
}

// terminalRetention bounds how long finished tasks stay visible to polling
// clients before Begin sweeps them out.
const terminalRetention = time.Hour

// Registry is a task-safe map from paper id to evaluation task. The zero
// value is not usable; construct with New.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

// Begin claims the id for a new evaluation. It returns false when a live
// task already holds the id, leaving that task untouched; terminal tasks
// are replaced. Check-and-claim is atomic under the registry lock.
func (r *Registry) Begin(arxivID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task, ok := r.tasks[arxivID]; ok && task.Status == paper.StatusEvaluating {
		return false
	}
	r.pruneLocked(now)
	r.tasks[arxivID] = Task{
		ArxivID:   arxivID,
		Status:    paper.StatusEvaluating,
		StartedAt: now,
	}
	return true
}

// Complete marks the task terminal-successful.
func (r *Registry) Complete(arxivID string, now time.Time) {
	r.finish(arxivID, paper.StatusCompleted, now)
}

// Fail marks the task terminal-failed.
func (r *Registry) Fail(arxivID string, now time.Time) {
	r.finish(arxivID, paper.StatusFailed, now)
}

func (r *Registry) finish(arxivID string, status paper.EvaluationStatus, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[arxivID]
	if !ok {
		return
	}
	task.Status = status
	task.FinishedAt = &now
	r.tasks[arxivID] = task
}

// pruneLocked drops terminal tasks whose finish time has aged past the
// retention window, keeping the map bounded by the working set. Callers must
// hold the write lock.
func (r *Registry) pruneLocked(now time.Time) {
	for id, task := range r.tasks {
		if task.FinishedAt != nil && now.Sub(*task.FinishedAt) > terminalRetention {
			delete(r.tasks, id)
		}
	}
}

// Status returns the task for the id, if one was ever created in this
// process lifetime.
func (r *Registry) Status(arxivID string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[arxivID]
	return task, ok
}

// Active returns a copy of all tasks still evaluating.
func (r *Registry) Active() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		if task.Status == paper.StatusEvaluating {
			out = append(out, task)
		}
	}
	return out
}

// Len reports how many tasks the registry tracks, terminal ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

package tasks

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"localtube/internal/domain"
)

// Registry is the single owned home of all task state. Every mutation goes
// through it, the single-flight rule is enforced under its lock, and every
// change is pushed to the hub.
type Registry struct {
	mu          sync.Mutex
	tasks       map[string]*domain.Task
	hub         *Hub
	metrics     *Metrics
	maxAttempts int
	now         func() time.Time
}

func NewRegistry(hub *Hub, metrics *Metrics, maxAttempts int, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Registry{
		tasks:       map[string]*domain.Task{},
		hub:         hub,
		metrics:     metrics,
		maxAttempts: maxAttempts,
		now:         now,
	}
}

// Add creates a Pending task. It fails with domain.ErrDuplicateTask when a
// live task for the same (kind, target) pair already exists; the check and
// the insert happen under one lock.
func (r *Registry) Add(kind domain.TaskKind, targetRef, title string) (domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.addLocked(kind, targetRef, title, 0)
	if err != nil {
		return domain.Task{}, err
	}
	r.publishLocked()
	return t, nil
}

// Requeue creates a fresh Pending task for a retry of prev, carrying its
// attempt count and delaying eligibility by delay. The failed task itself
// stays Failed and visible until the sweep retires it.
func (r *Registry) Requeue(prev domain.Task, delay time.Duration) (domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.addLocked(prev.Kind, prev.TargetRef, prev.Title, prev.Attempts)
	if err != nil {
		return domain.Task{}, err
	}
	stored := r.tasks[t.ID]
	stored.NextRunAt = r.now().Add(delay)
	stored.StatusMessage = fmt.Sprintf("Retry %d of %d scheduled", prev.Attempts+1, prev.MaxAttempts)
	r.publishLocked()
	return *stored, nil
}

func (r *Registry) addLocked(kind domain.TaskKind, targetRef, title string, attempts int) (domain.Task, error) {
	for _, t := range r.tasks {
		if t.Kind == kind && t.TargetRef == targetRef && t.Live() {
			return domain.Task{}, fmt.Errorf("%w: %s %s", domain.ErrDuplicateTask, kind, targetRef)
		}
	}
	t := &domain.Task{
		ID:          uuid.NewString(),
		Kind:        kind,
		TargetRef:   targetRef,
		Title:       title,
		State:       domain.StatePending,
		Attempts:    attempts,
		MaxAttempts: r.maxAttempts,
		CreatedAt:   r.now(),
	}
	r.tasks[t.ID] = t
	return *t, nil
}

// Start transitions a Pending task to Running. Returns false when the task
// is gone or no longer Pending (e.g. cancelled while queued).
func (r *Registry) Start(id string) (domain.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.State != domain.StatePending || t.Removed {
		return domain.Task{}, false
	}
	t.State = domain.StateRunning
	t.StartedAt = r.now()
	t.Attempts++
	cp := *t
	r.publishLocked()
	return cp, true
}

// SetStatusMessage updates the free-text progress line of a live task.
func (r *Registry) SetStatusMessage(id, msg string) {
	r.mutateLive(id, func(t *domain.Task) { t.StatusMessage = msg })
}

// SetTitle updates the task label once real metadata is known.
func (r *Registry) SetTitle(id, title string) {
	r.mutateLive(id, func(t *domain.Task) { t.Title = title })
}

// Complete transitions a Running task to Completed.
func (r *Registry) Complete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.State != domain.StateRunning {
		return
	}
	t.State = domain.StateCompleted
	t.StatusMessage = ""
	t.FinishedAt = r.now()
	if r.metrics != nil {
		r.metrics.RecordSuccess(t.Kind)
	}
	r.publishLocked()
}

// Fail transitions a live task to Failed with the given error message.
// Pending tasks can fail too (user cancellation before dispatch).
func (r *Registry) Fail(id, errMsg string) {
	if errMsg == "" {
		errMsg = "unknown error"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.State.Terminal() {
		return
	}
	t.State = domain.StateFailed
	t.ErrorMessage = errMsg
	t.FinishedAt = r.now()
	if r.metrics != nil {
		r.metrics.RecordFailure(t.Kind)
	}
	r.publishLocked()
}

// MarkRemoved retires a terminal task past its retention window. It stays in
// the registry until DropRemoved physically deletes it, but disappears from
// published snapshots.
func (r *Registry) MarkRemoved(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || !t.State.Terminal() || t.Removed {
		return
	}
	t.Removed = true
	r.publishLocked()
}

// DropRemoved deletes removed tasks whose FinishedAt is older than olderThan.
func (r *Registry) DropRemoved(olderThan time.Duration) {
	cutoff := r.now().Add(-olderThan)
	r.mu.Lock()
	for id, t := range r.tasks {
		if t.Removed && t.FinishedAt.Before(cutoff) {
			delete(r.tasks, id)
		}
	}
	r.mu.Unlock()
}

// Get returns a copy of the task with the given id.
func (r *Registry) Get(id string) (domain.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return *t, true
}

// Snapshot returns copies of all tasks, removed included, ordered by
// creation time then id.
func (r *Registry) Snapshot() []domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, *t)
	}
	sortTasks(out)
	return out
}

// Active reports whether a live task exists for the (kind, target) pair.
func (r *Registry) Active(kind domain.TaskKind, targetRef string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.Kind == kind && t.TargetRef == targetRef && t.Live() {
			return true
		}
	}
	return false
}

// LiveForTarget returns copies of all live tasks acting on targetRef.
func (r *Registry) LiveForTarget(targetRef string) []domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Task
	for _, t := range r.tasks {
		if t.TargetRef == targetRef && t.Live() {
			out = append(out, *t)
		}
	}
	sortTasks(out)
	return out
}

// Idle reports whether no live tasks remain.
func (r *Registry) Idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.Live() {
			return false
		}
	}
	return true
}

func (r *Registry) mutateLive(id string, fn func(*domain.Task)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.State.Terminal() || t.Removed {
		return
	}
	fn(t)
	r.publishLocked()
}

// publishLocked pushes the visible snapshot to the hub while still holding
// the registry mutex, so snapshots arrive in mutation order and the hub's
// latest state can never trail a returned mutation. Hub.Publish never
// blocks, which makes holding the lock across it safe.
func (r *Registry) publishLocked() {
	if r.hub != nil {
		r.hub.Publish(r.visibleLocked())
	}
}

func (r *Registry) visibleLocked() []domain.Task {
	out := make([]domain.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if !t.Removed {
			out = append(out, *t)
		}
	}
	sortTasks(out)
	return out
}

func sortTasks(ts []domain.Task) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].ID < ts[j].ID
		}
		return ts[i].CreatedAt.Before(ts[j].CreatedAt)
	})
}

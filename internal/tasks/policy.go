package tasks

import (
	"time"

	"localtube/internal/domain"
	"localtube/pkg/backoff"
)

// Policy is the pure scheduling decision logic: which Pending tasks may run
// now, and whether a failed task earns another attempt.
type Policy struct {
	MaxConcurrency int
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
}

type targetKey struct {
	kind   domain.TaskKind
	target string
}

// SelectRunnable picks the Pending tasks to dispatch, given a registry
// snapshot. Tasks whose target already has a Running task are held back,
// the rest run FIFO by creation time (ties by id), and at most
// MaxConcurrency minus the current Running count are returned.
func (p Policy) SelectRunnable(now time.Time, snapshot []domain.Task) []domain.Task {
	sortTasks(snapshot)
	running := 0
	busy := map[targetKey]bool{}
	for i := range snapshot {
		t := &snapshot[i]
		if t.Removed {
			continue
		}
		if t.State == domain.StateRunning {
			running++
			busy[targetKey{t.Kind, t.TargetRef}] = true
		}
	}

	budget := p.MaxConcurrency - running
	if budget <= 0 {
		return nil
	}

	var selected []domain.Task
	for i := range snapshot {
		t := snapshot[i]
		if t.Removed || t.State != domain.StatePending {
			continue
		}
		if t.NextRunAt.After(now) {
			continue
		}
		key := targetKey{t.Kind, t.TargetRef}
		if busy[key] {
			continue
		}
		busy[key] = true
		selected = append(selected, t)
		if len(selected) == budget {
			break
		}
	}
	return selected
}

// ShouldRetry reports whether a failure after the given attempt count earns
// a re-enqueue. Only transient failures retry, and only while attempts
// remain.
func (p Policy) ShouldRetry(class domain.ErrorClass, attempts int) bool {
	return class == domain.ClassTransient && attempts < p.MaxAttempts
}

// RetryDelay returns the backoff before the next attempt.
func (p Policy) RetryDelay(attempts int) time.Duration {
	return backoff.Delay(p.BaseBackoff, p.MaxBackoff, attempts)
}

package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"localtube/internal/domain"
	"localtube/internal/ports"
)

// Scheduler drives the orchestrator: on each tick it enqueues refreshes for
// sources whose cadence elapsed, sweeps terminal tasks past retention, and
// hands runnable tasks to the pool. It is the only writer besides the pool,
// and every step is idempotent.
type Scheduler struct {
	reg                *Registry
	pool               *Pool
	store              ports.Store
	policy             Policy
	tick               time.Duration
	completedRetention time.Duration
	failedRetention    time.Duration
	now                func() time.Time
	log                zerolog.Logger
}

func NewScheduler(reg *Registry, pool *Pool, store ports.Store, policy Policy, tick, completedRetention, failedRetention time.Duration, now func() time.Time, log zerolog.Logger) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		reg:                reg,
		pool:               pool,
		store:              store,
		policy:             policy,
		tick:               tick,
		completedRetention: completedRetention,
		failedRetention:    failedRetention,
		now:                now,
		log:                log,
	}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs one scheduling pass.
func (s *Scheduler) Tick(ctx context.Context) {
	s.scheduleDueSources(ctx)
	s.sweep()
	s.dispatch(ctx)
}

func (s *Scheduler) scheduleDueSources(ctx context.Context) {
	sources, err := s.store.ListSources(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list sources")
		return
	}
	now := s.now()
	for i := range sources {
		src := &sources[i]
		if !src.RefreshDue(now) {
			continue
		}
		if s.reg.Active(domain.KindRefreshSource, src.ID) {
			continue
		}
		if _, err := s.reg.Add(domain.KindRefreshSource, src.ID, "Refreshing "+src.DisplayName()); err != nil {
			if !errors.Is(err, domain.ErrDuplicateTask) {
				s.log.Error().Err(err).Str("source", src.ID).Msg("failed to enqueue refresh")
			}
			continue
		}
		s.log.Debug().Str("source", src.ID).Msg("refresh enqueued")
	}
}

// sweep retires terminal tasks past their retention window. Failed tasks
// linger longer than completed ones so errors stay readable. Removed tasks
// are physically dropped once they have aged well past retention.
func (s *Scheduler) sweep() {
	now := s.now()
	for _, t := range s.reg.Snapshot() {
		if !t.State.Terminal() || t.Removed || t.FinishedAt.IsZero() {
			continue
		}
		if now.Sub(t.FinishedAt) > s.retentionFor(t.State) {
			s.reg.MarkRemoved(t.ID)
		}
	}
	s.reg.DropRemoved(2 * s.failedRetention)
}

func (s *Scheduler) retentionFor(state domain.TaskState) time.Duration {
	if state == domain.StateFailed {
		return s.failedRetention
	}
	return s.completedRetention
}

func (s *Scheduler) dispatch(ctx context.Context) {
	for _, t := range s.policy.SelectRunnable(s.now(), s.reg.Snapshot()) {
		if !s.pool.Dispatch(ctx, t) {
			// no free slot; the task stays Pending for a later tick
			return
		}
	}
}

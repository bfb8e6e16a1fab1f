package tasks

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"localtube/internal/domain"
	"localtube/internal/ports"
)

// Options configure the orchestrator. Zero values fall back to defaults
// matching internal/config.
type Options struct {
	Concurrency        int
	TaskTimeout        time.Duration
	TickInterval       time.Duration
	MaxAttempts        int
	BaseBackoff        time.Duration
	MaxBackoff         time.Duration
	CompletedRetention time.Duration
	FailedRetention    time.Duration
	MediaDir           string
	Now                func() time.Time
}

func (o *Options) defaults() {
	if o.Concurrency < 1 {
		o.Concurrency = 4
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = 30 * time.Minute
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 30 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Minute
	}
	if o.CompletedRetention <= 0 {
		o.CompletedRetention = 5 * time.Second
	}
	if o.FailedRetention <= 0 {
		o.FailedRetention = 30 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Orchestrator owns the whole background work subsystem: registry, status
// hub, worker pool and scheduler loop, wired together with no ambient state.
type Orchestrator struct {
	reg     *Registry
	hub     *Hub
	metrics *Metrics
	pool    *Pool
	sched   *Scheduler
	log     zerolog.Logger
}

func New(store ports.Store, dl ports.Downloader, opts Options, log zerolog.Logger) *Orchestrator {
	opts.defaults()

	hub := NewHub()
	metrics := NewMetrics(opts.Now)
	reg := NewRegistry(hub, metrics, opts.MaxAttempts, opts.Now)
	policy := Policy{
		MaxConcurrency: opts.Concurrency,
		MaxAttempts:    opts.MaxAttempts,
		BaseBackoff:    opts.BaseBackoff,
		MaxBackoff:     opts.MaxBackoff,
	}
	pool := NewPool(reg, store, dl, policy, opts.TaskTimeout, opts.MediaDir, opts.Now, log)
	sched := NewScheduler(reg, pool, store, policy, opts.TickInterval,
		opts.CompletedRetention, opts.FailedRetention, opts.Now, log)

	return &Orchestrator{
		reg:     reg,
		hub:     hub,
		metrics: metrics,
		pool:    pool,
		sched:   sched,
		log:     log,
	}
}

// Run drives the scheduler loop until ctx is cancelled, then waits for
// in-flight tasks to finish.
func (o *Orchestrator) Run(ctx context.Context) error {
	err := o.sched.Run(ctx)
	o.pool.Wait()
	return err
}

// TickOnce performs a single scheduling pass (used by the one-shot refresh
// command and by tests).
func (o *Orchestrator) TickOnce(ctx context.Context) {
	o.sched.Tick(ctx)
}

func (o *Orchestrator) Hub() *Hub         { return o.hub }
func (o *Orchestrator) Metrics() *Metrics { return o.metrics }

// EnqueueRefresh schedules an immediate refresh of src (user trigger).
func (o *Orchestrator) EnqueueRefresh(src *domain.Source) (domain.Task, error) {
	return o.reg.Add(domain.KindRefreshSource, src.ID, "Refreshing "+src.DisplayName())
}

// EnqueueDownload schedules an immediate download of m (user trigger).
func (o *Orchestrator) EnqueueDownload(m *domain.Media) (domain.Task, error) {
	return o.reg.Add(domain.KindDownloadVideo, m.ID, m.DisplayTitle())
}

// CancelTarget cancels every live task acting on the given source or media
// record (user deleted it).
func (o *Orchestrator) CancelTarget(targetRef string) {
	o.pool.CancelTarget(targetRef)
}

// Idle reports whether no task is pending or running.
func (o *Orchestrator) Idle() bool { return o.reg.Idle() }

// Wait blocks until all in-flight executions finished.
func (o *Orchestrator) Wait() { o.pool.Wait() }

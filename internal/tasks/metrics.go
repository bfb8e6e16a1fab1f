package tasks

import (
	"sync"
	"time"

	"localtube/internal/domain"
)

// Metrics tracks per-kind task outcome counters.
type Metrics struct {
	mu    sync.Mutex
	now   func() time.Time
	kinds map[domain.TaskKind]*kindCounters
}

type kindCounters struct {
	success     uint64
	failure     uint64
	consecutive uint64
	lastSuccess time.Time
	lastFailure time.Time
}

func NewMetrics(now func() time.Time) *Metrics {
	if now == nil {
		now = time.Now
	}
	m := &Metrics{now: now, kinds: map[domain.TaskKind]*kindCounters{}}
	for _, kind := range []domain.TaskKind{domain.KindRefreshSource, domain.KindDownloadVideo} {
		m.kinds[kind] = &kindCounters{}
	}
	return m
}

func (m *Metrics) RecordSuccess(kind domain.TaskKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters(kind)
	c.success++
	c.consecutive = 0
	c.lastSuccess = m.now()
}

func (m *Metrics) RecordFailure(kind domain.TaskKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters(kind)
	c.failure++
	c.consecutive++
	c.lastFailure = m.now()
}

func (m *Metrics) counters(kind domain.TaskKind) *kindCounters {
	c, ok := m.kinds[kind]
	if !ok {
		c = &kindCounters{}
		m.kinds[kind] = c
	}
	return c
}

// KindMetrics is the reported view of one task kind.
type KindMetrics struct {
	SuccessCount          uint64  `json:"success_count"`
	FailureCount          uint64  `json:"failure_count"`
	ConsecutiveFailures   uint64  `json:"consecutive_failures"`
	LastSuccessSecondsAgo *uint64 `json:"last_success_seconds_ago"`
	LastFailureSecondsAgo *uint64 `json:"last_failure_seconds_ago"`
}

func (m *Metrics) View() map[string]KindMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := make(map[string]KindMetrics, len(m.kinds))
	for kind, c := range m.kinds {
		out[string(kind)] = KindMetrics{
			SuccessCount:          c.success,
			FailureCount:          c.failure,
			ConsecutiveFailures:   c.consecutive,
			LastSuccessSecondsAgo: secondsAgo(now, c.lastSuccess),
			LastFailureSecondsAgo: secondsAgo(now, c.lastFailure),
		}
	}
	return out
}

func secondsAgo(now, t time.Time) *uint64 {
	if t.IsZero() || t.After(now) {
		return nil
	}
	s := uint64(now.Sub(t) / time.Second)
	return &s
}

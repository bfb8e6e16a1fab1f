package tasks

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localtube/internal/domain"
)

func pendingTask(id, target string, createdAt time.Time) domain.Task {
	return domain.Task{
		ID:        id,
		Kind:      domain.KindDownloadVideo,
		TargetRef: target,
		State:     domain.StatePending,
		CreatedAt: createdAt,
	}
}

func TestPolicy_SelectRunnable_FIFOWithinBudget(t *testing.T) {
	p := Policy{MaxConcurrency: 2}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var snapshot []domain.Task
	for i := 0; i < 5; i++ {
		snapshot = append(snapshot, pendingTask(
			fmt.Sprintf("t%d", i), fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second)))
	}

	selected := p.SelectRunnable(base.Add(time.Minute), snapshot)
	require.Len(t, selected, 2)
	assert.Equal(t, "t0", selected[0].ID)
	assert.Equal(t, "t1", selected[1].ID)
}

func TestPolicy_SelectRunnable_OrderIndependentOfInput(t *testing.T) {
	p := Policy{MaxConcurrency: 1}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	snapshot := []domain.Task{
		pendingTask("late", "m1", base.Add(time.Minute)),
		pendingTask("early", "m2", base),
	}

	selected := p.SelectRunnable(base.Add(time.Hour), snapshot)
	require.Len(t, selected, 1)
	assert.Equal(t, "early", selected[0].ID)
}

func TestPolicy_SelectRunnable_RunningCountsAgainstBudget(t *testing.T) {
	p := Policy{MaxConcurrency: 2}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	snapshot := []domain.Task{
		{ID: "r1", Kind: domain.KindDownloadVideo, TargetRef: "m1", State: domain.StateRunning, CreatedAt: base},
		pendingTask("p1", "m2", base.Add(time.Second)),
		pendingTask("p2", "m3", base.Add(2*time.Second)),
	}

	selected := p.SelectRunnable(base.Add(time.Minute), snapshot)
	require.Len(t, selected, 1)
	assert.Equal(t, "p1", selected[0].ID)
}

func TestPolicy_SelectRunnable_NoBudgetWhenSaturated(t *testing.T) {
	p := Policy{MaxConcurrency: 1}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	snapshot := []domain.Task{
		{ID: "r1", Kind: domain.KindDownloadVideo, TargetRef: "m1", State: domain.StateRunning, CreatedAt: base},
		pendingTask("p1", "m2", base.Add(time.Second)),
	}

	assert.Nil(t, p.SelectRunnable(base.Add(time.Minute), snapshot))
}

func TestPolicy_SelectRunnable_HoldsBackBusyTarget(t *testing.T) {
	p := Policy{MaxConcurrency: 4}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	snapshot := []domain.Task{
		{ID: "r1", Kind: domain.KindDownloadVideo, TargetRef: "m1", State: domain.StateRunning, CreatedAt: base},
		pendingTask("p1", "m1", base.Add(time.Second)),
		pendingTask("p2", "m2", base.Add(2*time.Second)),
	}

	selected := p.SelectRunnable(base.Add(time.Minute), snapshot)
	require.Len(t, selected, 1)
	assert.Equal(t, "p2", selected[0].ID)
}

func TestPolicy_SelectRunnable_DedupsTargetsWithinBatch(t *testing.T) {
	p := Policy{MaxConcurrency: 4}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	snapshot := []domain.Task{
		pendingTask("p1", "m1", base),
		pendingTask("p2", "m1", base.Add(time.Second)),
	}

	selected := p.SelectRunnable(base.Add(time.Minute), snapshot)
	require.Len(t, selected, 1)
	assert.Equal(t, "p1", selected[0].ID)
}

func TestPolicy_SelectRunnable_RespectsNextRunAt(t *testing.T) {
	p := Policy{MaxConcurrency: 4}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	delayed := pendingTask("p1", "m1", base)
	delayed.NextRunAt = base.Add(time.Minute)

	assert.Nil(t, p.SelectRunnable(base.Add(30*time.Second), []domain.Task{delayed}))

	selected := p.SelectRunnable(base.Add(time.Minute), []domain.Task{delayed})
	require.Len(t, selected, 1)
	assert.Equal(t, "p1", selected[0].ID)
}

func TestPolicy_SelectRunnable_SkipsRemovedAndTerminal(t *testing.T) {
	p := Policy{MaxConcurrency: 4}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	removed := pendingTask("p1", "m1", base)
	removed.Removed = true
	snapshot := []domain.Task{
		removed,
		{ID: "f1", Kind: domain.KindDownloadVideo, TargetRef: "m2", State: domain.StateFailed, CreatedAt: base},
		pendingTask("p2", "m3", base.Add(time.Second)),
	}

	selected := p.SelectRunnable(base.Add(time.Minute), snapshot)
	require.Len(t, selected, 1)
	assert.Equal(t, "p2", selected[0].ID)
}

func TestPolicy_ShouldRetry(t *testing.T) {
	p := Policy{MaxAttempts: 3}

	assert.True(t, p.ShouldRetry(domain.ClassTransient, 1))
	assert.True(t, p.ShouldRetry(domain.ClassTransient, 2))
	assert.False(t, p.ShouldRetry(domain.ClassTransient, 3))
	assert.False(t, p.ShouldRetry(domain.ClassPermanent, 1))
	assert.False(t, p.ShouldRetry(domain.ClassCancelled, 1))
}

func TestPolicy_RetryDelayGrows(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseBackoff: 30 * time.Second, MaxBackoff: 10 * time.Minute}

	d1 := p.RetryDelay(1)
	d2 := p.RetryDelay(2)

	assert.GreaterOrEqual(t, d1, 24*time.Second)
	assert.LessOrEqual(t, d1, 36*time.Second)
	assert.GreaterOrEqual(t, d2, 48*time.Second)
	assert.LessOrEqual(t, d2, 72*time.Second)
}

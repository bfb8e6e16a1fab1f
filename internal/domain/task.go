package domain

import "time"

type TaskKind string

const (
	KindDownloadVideo TaskKind = "download_video"
	KindRefreshSource TaskKind = "refresh_source"
)

type TaskState string

const (
	StatePending   TaskState = "pending"
	StateRunning   TaskState = "running"
	StateCompleted TaskState = "completed"
	StateFailed    TaskState = "failed"
)

// Terminal reports whether the state is an end state.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Task is one unit of background work tracked through its lifecycle.
// TargetRef is the Source or Media record id the task acts on; at most one
// Pending or Running task may exist per (Kind, TargetRef) pair.
type Task struct {
	ID            string    `json:"id"`
	Kind          TaskKind  `json:"kind"`
	TargetRef     string    `json:"target_ref"`
	Title         string    `json:"title"`
	StatusMessage string    `json:"status_message,omitempty"`
	State         TaskState `json:"state"`
	Removed       bool      `json:"removed"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	Attempts      int       `json:"attempts"`
	MaxAttempts   int       `json:"max_attempts"`
	NextRunAt     time.Time `json:"next_run_at"`
	CreatedAt     time.Time `json:"created_at"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Live reports whether the task still occupies its (kind, target) slot.
func (t *Task) Live() bool {
	return !t.Removed && !t.State.Terminal()
}

package tasks

import (
	"sync"

	"localtube/internal/domain"
)

// TaskView is the wire shape of one task in a status snapshot.
type TaskView struct {
	ID           string `json:"id"`
	TaskType     string `json:"task_type"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	State        string `json:"state"`
	Failed       bool   `json:"failed"`
	Removed      bool   `json:"removed"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Snapshot is the full set of non-removed tasks pushed to observers.
// An empty Tasks list means the system is idle.
type Snapshot struct {
	Tasks []TaskView `json:"tasks"`
}

// Hub fans task snapshots out to any number of subscribers. Each subscriber
// owns a one-slot mailbox with latest-wins overwrite, so a stalled consumer
// never blocks a publisher or another subscriber.
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
	last Snapshot
}

func NewHub() *Hub {
	return &Hub{
		subs: map[*Subscriber]struct{}{},
		last: Snapshot{Tasks: []TaskView{}},
	}
}

// Subscriber receives snapshots from a Hub. Close it when done; Close is
// idempotent.
type Subscriber struct {
	hub *Hub
	ch  chan Snapshot
}

// C returns the snapshot channel. Intermediate snapshots may be coalesced;
// the latest state is always eventually delivered.
func (s *Subscriber) C() <-chan Snapshot { return s.ch }

func (s *Subscriber) Close() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s)
	s.hub.mu.Unlock()
}

// Subscribe registers a new observer and immediately delivers the current
// snapshot.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{hub: h, ch: make(chan Snapshot, 1)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	sub.push(h.last)
	h.mu.Unlock()
	return sub
}

// Current returns the latest published snapshot.
func (h *Hub) Current() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Publish replaces the current snapshot and delivers it to all subscribers
// without ever blocking the caller.
func (h *Hub) Publish(visible []domain.Task) {
	snap := makeSnapshot(visible)
	h.mu.Lock()
	h.last = snap
	for sub := range h.subs {
		sub.push(snap)
	}
	h.mu.Unlock()
}

// push delivers snap with latest-wins semantics: if the mailbox is full the
// stale snapshot is discarded first.
func (s *Subscriber) push(snap Snapshot) {
	for {
		select {
		case s.ch <- snap:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

func makeSnapshot(visible []domain.Task) Snapshot {
	views := make([]TaskView, 0, len(visible))
	for i := range visible {
		t := &visible[i]
		views = append(views, TaskView{
			ID:           t.ID,
			TaskType:     string(t.Kind),
			Title:        t.Title,
			Status:       t.StatusMessage,
			State:        string(t.State),
			Failed:       t.State == domain.StateFailed,
			Removed:      t.Removed,
			ErrorMessage: t.ErrorMessage,
		})
	}
	return Snapshot{Tasks: views}
}

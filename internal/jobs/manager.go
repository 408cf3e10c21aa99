// Package jobs persists job lifecycle and multiplexes progress events to
// WebSocket subscribers. Events on one subscription arrive in submission
// order; subscribers joining after termination read the persisted row.
package jobs

import (
	"encoding/json"
	"log/slog"
	"sync"

	"netval/internal/models"
	"netval/internal/store"
)

// Event is one structured progress message. The "event" key names the kind.
type Event map[string]any

type subscriber struct {
	ch chan Event
}

type Manager struct {
	store *store.Store

	mu      sync.Mutex
	subs    map[string][]*subscriber
	history map[string][]Event
}

func NewManager(st *store.Store) *Manager {
	return &Manager{
		store:   st,
		subs:    make(map[string][]*subscriber),
		history: make(map[string][]Event),
	}
}

// Create persists a queued job row and registers it as live.
func (m *Manager) Create(projectID, kind string) (*models.Job, error) {
	j, err := m.store.CreateJob(projectID, kind)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.history[j.ID] = nil
	m.mu.Unlock()
	return j, nil
}

func (m *Manager) Start(jobID string) error {
	return m.store.MarkJobRunning(jobID)
}

// Publish fans an event out to current subscribers and appends it to the
// replay history for late joiners.
func (m *Manager) Publish(jobID string, ev Event) {
	m.mu.Lock()
	if _, live := m.history[jobID]; !live {
		m.mu.Unlock()
		return
	}
	m.history[jobID] = append(m.history[jobID], ev)
	subs := append([]*subscriber(nil), m.subs[jobID]...)
	m.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			slog.Warn("job subscriber lagging, dropping event", "job", jobID)
		}
	}
}

// Complete persists the final result, emits the terminal event, and closes
// every subscription.
func (m *Manager) Complete(jobID string, result any) {
	payload, err := json.Marshal(result)
	if err != nil {
		m.Fail(jobID, "result serialization failed: "+err.Error())
		return
	}
	if err := m.store.FinishJob(jobID, models.JobComplete, payload, ""); err != nil {
		slog.Error("job completion write failed", "job", jobID, "error", err)
	}
	m.terminate(jobID, Event{"event": "complete", "result": json.RawMessage(payload)})
}

func (m *Manager) Fail(jobID, reason string) {
	if err := m.store.FinishJob(jobID, models.JobFailed, nil, reason); err != nil {
		slog.Error("job failure write failed", "job", jobID, "error", err)
	}
	m.terminate(jobID, Event{"event": "failed", "error": reason})
}

func (m *Manager) terminate(jobID string, final Event) {
	m.mu.Lock()
	m.history[jobID] = append(m.history[jobID], final)
	subs := m.subs[jobID]
	delete(m.subs, jobID)
	delete(m.history, jobID)
	m.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- final:
		default:
			slog.Warn("job subscriber lagging, dropping final event", "job", jobID)
		}
		close(s.ch)
	}
}

// Subscribe attaches to a live job. The returned channel first replays every
// event published so far, then delivers new ones; it is closed on
// termination. ok=false means the job already terminated and the caller
// should read the persisted row instead.
func (m *Manager) Subscribe(jobID string) (<-chan Event, func(), bool) {
	m.mu.Lock()
	hist, live := m.history[jobID]
	if !live {
		m.mu.Unlock()
		return nil, nil, false
	}
	s := &subscriber{ch: make(chan Event, 256+len(hist))}
	for _, ev := range hist {
		s.ch <- ev
	}
	m.subs[jobID] = append(m.subs[jobID], s)
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		list := m.subs[jobID]
		for i, cur := range list {
			if cur == s {
				m.subs[jobID] = append(list[:i], list[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
	}
	return s.ch, cancel, true
}

// Get reads the persisted job row.
func (m *Manager) Get(jobID string) (*models.Job, error) {
	return m.store.GetJob(jobID)
}

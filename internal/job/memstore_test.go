package job

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store with the same conditional-update semantics
// as the sqlite implementation.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newMemStore() *memStore {
	return &memStore{jobs: map[string]*Job{}}
}

func (m *memStore) get(id string) Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memStore) InsertJob(_ context.Context, j *Job) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.jobs {
		if e.UserID == j.UserID && e.Type == j.Type && e.Payload == j.Payload && !e.Status.Terminal() {
			return false, nil
		}
	}
	cp := *j
	m.jobs[j.ID] = &cp
	return true, nil
}

func (m *memStore) CancelPending(_ context.Context, userID string, typ Type, payload string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now()
	for _, e := range m.jobs {
		if e.UserID == userID && e.Type == typ && e.Status == StatusPending &&
			(payload == "" || e.Payload == payload) {
			e.Status = StatusCancelled
			e.ProcessedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memStore) CancelPendingByPayloadField(_ context.Context, userID string, typ Type, field, value string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now()
	for _, e := range m.jobs {
		if e.UserID != userID || e.Type != typ || e.Status != StatusPending {
			continue
		}
		var p map[string]any
		if json.Unmarshal([]byte(e.Payload), &p) != nil {
			continue
		}
		if s, ok := p[field].(string); ok && s == value {
			e.Status = StatusCancelled
			e.ProcessedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memStore) CancelPendingByID(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok || e.Status != StatusPending {
		return false, nil
	}
	now := time.Now()
	e.Status = StatusCancelled
	e.ProcessedAt = &now
	return true, nil
}

func (m *memStore) RescheduleJob(_ context.Context, id string, at int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok || (e.Status != StatusPending && e.Status != StatusFailed) {
		return false, nil
	}
	e.ScheduledFor = at
	e.Status = StatusPending
	e.Attempts = 0
	e.Error = ""
	return true, nil
}

func (m *memStore) PendingJobs(_ context.Context, userID string) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, e := range m.jobs {
		if e.UserID == userID && e.Status == StatusPending {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ScheduledFor < out[k].ScheduledFor })
	return out, nil
}

func (m *memStore) JobStats(_ context.Context, userID string, dayStart, dayEnd int64) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st Stats
	for _, e := range m.jobs {
		if e.UserID != userID {
			continue
		}
		switch e.Status {
		case StatusPending:
			st.Pending++
		case StatusProcessing:
			st.Processing++
		case StatusCompleted:
			st.Completed++
		case StatusFailed:
			st.Failed++
		case StatusCancelled:
			st.Cancelled++
		}
		if e.Status != StatusCancelled && e.ScheduledFor >= dayStart && e.ScheduledFor < dayEnd {
			st.DueToday++
		}
	}
	return st, nil
}

func (m *memStore) DueJobs(_ context.Context, now int64, limit int) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, e := range m.jobs {
		if e.Status == StatusPending && e.ScheduledFor <= now {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ScheduledFor < out[k].ScheduledFor })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ClaimJob(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok || e.Status != StatusPending {
		return false, nil
	}
	e.Status = StatusProcessing
	e.Attempts++
	e.ClaimedAt = &now
	return true, nil
}

func (m *memStore) CompleteJob(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.jobs[id]
	e.Status = StatusCompleted
	e.ProcessedAt = &now
	e.Error = ""
	return nil
}

func (m *memStore) RetryJob(_ context.Context, id string, at int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.jobs[id]
	e.Status = StatusPending
	e.ScheduledFor = at
	e.Error = errMsg
	return nil
}

func (m *memStore) FailJob(_ context.Context, id string, now time.Time, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.jobs[id]
	e.Status = StatusFailed
	e.ProcessedAt = &now
	e.Error = errMsg
	return nil
}

func (m *memStore) ResetStuckJobs(_ context.Context, now, claimedBefore time.Time) (reset, failed int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.jobs {
		if e.Status != StatusProcessing || e.ClaimedAt == nil || !e.ClaimedAt.Before(claimedBefore) {
			continue
		}
		e.ClaimedAt = nil
		if e.Attempts < e.MaxAttempts {
			e.Status = StatusPending
			reset++
		} else {
			e.Status = StatusFailed
			t := now
			e.ProcessedAt = &t
			failed++
		}
	}
	return reset, failed, nil
}

func (m *memStore) DeleteTerminalJobsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.jobs {
		if e.Status.Terminal() && e.ProcessedAt != nil && e.ProcessedAt.Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

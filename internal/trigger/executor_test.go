package trigger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"pulse/internal/message"
	"pulse/internal/notify"
	"pulse/internal/settings"
	logx "pulse/pkg/logx"
)

type memTriggerStore struct {
	mu       sync.Mutex
	triggers map[string]*Trigger
	logs     []ExecutionLog
}

func newMemTriggerStore() *memTriggerStore {
	return &memTriggerStore{triggers: map[string]*Trigger{}}
}

func (m *memTriggerStore) get(id string) Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.triggers[id]
}

func (m *memTriggerStore) CreateTrigger(_ context.Context, t *Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.triggers[t.ID] = &cp
	return nil
}

func (m *memTriggerStore) GetTrigger(_ context.Context, id string) (*Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *t
	return &cp, nil
}

func (m *memTriggerStore) ListUserTriggers(_ context.Context, userID string) ([]Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Trigger
	for _, t := range m.triggers {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memTriggerStore) SetTriggerActive(_ context.Context, id string, active bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[id]
	if !ok {
		return false, nil
	}
	t.IsActive = active
	if active {
		t.ErrorCount = 0
		t.LastError = ""
	}
	return true, nil
}

func (m *memTriggerStore) DeleteTrigger(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.triggers[id]; !ok {
		return false, nil
	}
	delete(m.triggers, id)
	return true, nil
}

func (m *memTriggerStore) DueTriggers(_ context.Context, now time.Time, limit int) ([]Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Trigger
	for _, t := range m.triggers {
		if t.IsActive && !t.NextTriggerAt.After(now) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].NextTriggerAt.Before(out[k].NextTriggerAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memTriggerStore) MarkTriggerSuccess(_ context.Context, id string, firedAt, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.triggers[id]
	t.ErrorCount = 0
	t.LastError = ""
	t.LastTriggeredAt = &firedAt
	t.NextTriggerAt = next
	return nil
}

func (m *memTriggerStore) MarkTriggerFailure(_ context.Context, id string, next time.Time, errMsg string, disableAt int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.triggers[id]
	t.ErrorCount++
	t.LastError = errMsg
	t.NextTriggerAt = next
	if t.ErrorCount >= disableAt {
		t.IsActive = false
	}
	return nil
}

func (m *memTriggerStore) AdvanceTrigger(_ context.Context, id string, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers[id].NextTriggerAt = next
	return nil
}

func (m *memTriggerStore) AppendExecutionLog(_ context.Context, e *ExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *e)
	return nil
}

func (m *memTriggerStore) ListExecutionLogs(_ context.Context, triggerID string, limit int) ([]ExecutionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ExecutionLog
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.logs[i].TriggerID == triggerID {
			out = append(out, m.logs[i])
		}
	}
	return out, nil
}

func (m *memTriggerStore) DeleteExecutionLogsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.logs[:0]
	var n int64
	for _, e := range m.logs {
		if e.ExecutedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.logs = kept
	return n, nil
}

type memSettings struct {
	byUser map[string]settings.Settings
}

func (m *memSettings) UserSettings(_ context.Context, userID string) (settings.Settings, error) {
	s, ok := m.byUser[userID]
	if !ok {
		return settings.Settings{}, settings.ErrNotFound
	}
	return s, nil
}

type memSink struct {
	mu       sync.Mutex
	messages []message.Message
}

func (m *memSink) AppendMessage(_ context.Context, msg *message.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *memSink) ListUserMessages(_ context.Context, userID string, limit int) ([]message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []message.Message
	for _, msg := range m.messages {
		if msg.UserID == userID && len(out) < limit {
			out = append(out, msg)
		}
	}
	return out, nil
}

type sentNote struct {
	chatID int64
	n      notify.Notification
}

type recorder struct {
	mu   sync.Mutex
	sent []sentNote
}

func (r *recorder) send(_ context.Context, chatID int64, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNote{chatID: chatID, n: n})
	return nil
}

type execHarness struct {
	store    *memTriggerStore
	sink     *memSink
	notes    *recorder
	executor *Executor
}

func newExecHarness(proactive bool, query QueryRunner) *execHarness {
	store := newMemTriggerStore()
	sink := &memSink{}
	notes := &recorder{}
	st := &memSettings{byUser: map[string]settings.Settings{
		"u1": {UserID: "u1", ChatID: 42, ProactiveEnabled: proactive, Timezone: "UTC"},
	}}
	notifier := notify.New(notify.SenderFunc(notes.send), notify.Config{RatePerSec: 100}, logx.Nop())
	return &execHarness{
		store:    store,
		sink:     sink,
		notes:    notes,
		executor: NewExecutor(store, st, sink, notifier, query, ExecutorConfig{}, logx.Nop()),
	}
}

func seedTrigger(h *execHarness, id string, due time.Time, action ActionType, payload string) {
	_ = h.store.CreateTrigger(context.Background(), &Trigger{
		ID:             id,
		UserID:         "u1",
		Name:           "test " + id,
		CronExpression: "0 9 * * *",
		ActionType:     action,
		ActionPayload:  payload,
		Timezone:       "UTC",
		IsActive:       true,
		NextTriggerAt:  due,
	})
}

func TestExecuteTriggerSuccess(t *testing.T) {
	t.Parallel()
	h := newExecHarness(true, nil)
	seedTrigger(h, "t1", time.Now().Add(-time.Minute), ActionReminder, `{"message":"stand up"}`)

	sum, err := h.executor.ProcessDueTriggers(context.Background())
	if err != nil {
		t.Fatalf("ProcessDueTriggers: %v", err)
	}
	if sum.Executed != 1 || sum.Failed != 0 || sum.Skipped != 0 {
		t.Fatalf("summary = %+v, want 1 executed", sum)
	}

	tr := h.store.get("t1")
	if tr.ErrorCount != 0 || tr.LastTriggeredAt == nil {
		t.Fatalf("trigger = %+v, want success bookkeeping", tr)
	}
	if !tr.NextTriggerAt.After(time.Now()) {
		t.Fatalf("next = %v, want advanced into the future", tr.NextTriggerAt)
	}
	if len(h.sink.messages) != 1 || h.sink.messages[0].Body != "stand up" {
		t.Fatalf("messages = %+v, want the reminder body persisted", h.sink.messages)
	}
	if len(h.notes.sent) != 1 || h.notes.sent[0].chatID != 42 {
		t.Fatalf("notifications = %+v, want one push to chat 42", h.notes.sent)
	}
	if len(h.store.logs) != 1 || h.store.logs[0].Status != ExecutionSuccess {
		t.Fatalf("logs = %+v, want one success entry", h.store.logs)
	}
	// The store persists created_at as a unix timestamp; a zero time would
	// write a nonsense epoch into every row.
	if h.store.logs[0].CreatedAt.IsZero() {
		t.Fatal("log CreatedAt is the zero time, want stamped at append")
	}
}

type failingQuery struct{ err error }

func (f failingQuery) RunQuery(context.Context, string) (string, error) { return "", f.err }

func TestCircuitBreakerDisablesAfterFiveFailures(t *testing.T) {
	t.Parallel()
	h := newExecHarness(true, failingQuery{err: errors.New("upstream down")})
	due := time.Now().Add(-time.Minute)
	seedTrigger(h, "t1", due, ActionQuery, `{"prompt":"status?"}`)

	for i := 1; i <= DisableAfterErrors; i++ {
		// Rewind next_trigger_at so every round finds the trigger due again.
		_ = h.store.AdvanceTrigger(context.Background(), "t1", due)

		sum, err := h.executor.ProcessDueTriggers(context.Background())
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		if sum.Failed != 1 {
			t.Fatalf("round %d: summary = %+v, want 1 failed", i, sum)
		}
	}

	tr := h.store.get("t1")
	if tr.IsActive {
		t.Fatalf("trigger still active after %d failures", DisableAfterErrors)
	}
	if tr.ErrorCount != DisableAfterErrors || tr.LastError == "" {
		t.Fatalf("trigger = %+v, want error_count=%d with last_error", tr, DisableAfterErrors)
	}
	if len(h.store.logs) != DisableAfterErrors {
		t.Fatalf("logs = %d entries, want %d", len(h.store.logs), DisableAfterErrors)
	}

	// A disabled trigger is no longer picked up.
	_ = h.store.AdvanceTrigger(context.Background(), "t1", due)
	sum, err := h.executor.ProcessDueTriggers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Executed+sum.Failed+sum.Skipped != 0 {
		t.Fatalf("disabled trigger executed: %+v", sum)
	}
}

type flakyQuery struct {
	mu    sync.Mutex
	fails int
}

func (f *flakyQuery) RunQuery(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return "", errors.New("flaky")
	}
	return "all good", nil
}

func TestSuccessResetsErrorCount(t *testing.T) {
	t.Parallel()
	h := newExecHarness(true, &flakyQuery{fails: DisableAfterErrors - 1})
	due := time.Now().Add(-time.Minute)
	seedTrigger(h, "t1", due, ActionQuery, `{"prompt":"status?"}`)

	for i := 0; i < DisableAfterErrors; i++ {
		_ = h.store.AdvanceTrigger(context.Background(), "t1", due)
		if _, err := h.executor.ProcessDueTriggers(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	tr := h.store.get("t1")
	if !tr.IsActive {
		t.Fatal("trigger disabled despite recovering on the final attempt")
	}
	if tr.ErrorCount != 0 || tr.LastError != "" {
		t.Fatalf("trigger = %+v, want failure state cleared by success", tr)
	}
}

func TestSkippedExecutionAdvancesWithoutErrors(t *testing.T) {
	t.Parallel()
	h := newExecHarness(false, nil) // proactive disabled
	due := time.Now().Add(-time.Minute)
	seedTrigger(h, "t1", due, ActionReminder, `{"message":"x"}`)

	sum, err := h.executor.ProcessDueTriggers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Skipped != 1 || sum.Executed != 0 || sum.Failed != 0 {
		t.Fatalf("summary = %+v, want 1 skipped", sum)
	}

	tr := h.store.get("t1")
	if tr.ErrorCount != 0 {
		t.Fatalf("skip incremented error_count: %+v", tr)
	}
	if !tr.NextTriggerAt.After(due) {
		t.Fatalf("next = %v, want advanced past %v", tr.NextTriggerAt, due)
	}
	if len(h.store.logs) != 1 || h.store.logs[0].Status != ExecutionSkipped {
		t.Fatalf("logs = %+v, want one skipped entry", h.store.logs)
	}
	if len(h.sink.messages) != 0 || len(h.notes.sent) != 0 {
		t.Fatal("skipped execution still produced output")
	}
}

type failingSettings struct{ err error }

func (f failingSettings) UserSettings(context.Context, string) (settings.Settings, error) {
	return settings.Settings{}, f.err
}

func TestSettingsLookupErrorIsAFailureNotASkip(t *testing.T) {
	t.Parallel()
	store := newMemTriggerStore()
	sink := &memSink{}
	notes := &recorder{}
	notifier := notify.New(notify.SenderFunc(notes.send), notify.Config{RatePerSec: 100}, logx.Nop())
	ex := NewExecutor(store, failingSettings{err: errors.New("database is locked")},
		sink, notifier, nil, ExecutorConfig{}, logx.Nop())

	due := time.Now().Add(-time.Minute)
	_ = store.CreateTrigger(context.Background(), &Trigger{
		ID: "t1", UserID: "u1", Name: "test t1",
		CronExpression: "0 9 * * *", ActionType: ActionReminder,
		ActionPayload: `{"message":"x"}`, Timezone: "UTC",
		IsActive: true, NextTriggerAt: due,
	})

	sum, err := ex.ProcessDueTriggers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Failed != 1 || sum.Skipped != 0 || sum.Executed != 0 {
		t.Fatalf("summary = %+v, want 1 failed", sum)
	}

	tr := store.get("t1")
	if tr.ErrorCount != 1 || tr.LastError == "" {
		t.Fatalf("trigger = %+v, want failure bookkeeping", tr)
	}
	if !tr.NextTriggerAt.After(due) {
		t.Fatalf("next = %v, want advanced past %v", tr.NextTriggerAt, due)
	}
	if len(store.logs) != 1 || store.logs[0].Status != ExecutionError {
		t.Fatalf("logs = %+v, want one error entry", store.logs)
	}
	if len(sink.messages) != 0 || len(notes.sent) != 0 {
		t.Fatal("failed lookup still produced output")
	}
}

func TestUnknownActionTypeFailsClosed(t *testing.T) {
	t.Parallel()
	h := newExecHarness(true, nil)
	seedTrigger(h, "t1", time.Now().Add(-time.Minute), ActionType("rogue"), "")

	sum, err := h.executor.ProcessDueTriggers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Failed != 1 {
		t.Fatalf("summary = %+v, want the unknown action counted as a failure", sum)
	}
	if tr := h.store.get("t1"); tr.ErrorCount != 1 {
		t.Fatalf("trigger = %+v, want error_count=1", tr)
	}
}

func TestProcessDueTriggersBatchOrderAndLimit(t *testing.T) {
	t.Parallel()
	h := newExecHarness(true, nil)
	now := time.Now()
	seedTrigger(h, "b", now.Add(-2*time.Minute), ActionReminder, `{"message":"b"}`)
	seedTrigger(h, "a", now.Add(-3*time.Minute), ActionReminder, `{"message":"a"}`)
	seedTrigger(h, "c", now.Add(-time.Minute), ActionReminder, `{"message":"c"}`)

	h.executor.cfg.BatchSize = 2
	sum, err := h.executor.ProcessDueTriggers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Executed != 2 {
		t.Fatalf("executed = %d, want batch limit of 2", sum.Executed)
	}
	if len(h.store.logs) != 2 ||
		h.store.logs[0].TriggerID != "a" || h.store.logs[1].TriggerID != "b" {
		t.Fatalf("execution order = %+v, want earliest-due first", h.store.logs)
	}
}

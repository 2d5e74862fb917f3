package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pulse/internal/job"
	"pulse/internal/message"
	"pulse/internal/settings"
	"pulse/internal/trigger"
	logx "pulse/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "pulse.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func insertTestJob(t *testing.T, st *Store, id, userID string, at int64, payload string) {
	t.Helper()
	ok, err := st.InsertJob(context.Background(), &job.Job{
		ID:           id,
		UserID:       userID,
		Type:         job.TypeReminder,
		ScheduledFor: at,
		Payload:      payload,
		Status:       job.StatusPending,
		MaxAttempts:  job.DefaultMaxAttempts,
		CreatedAt:    time.Now(),
	})
	if err != nil || !ok {
		t.Fatalf("insert job %s: inserted=%v err=%v", id, ok, err)
	}
}

func TestInsertJobDedup(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	at := time.Now().Add(time.Hour).Unix()

	insertTestJob(t, st, "a", "u1", at, `{"message":"x"}`)

	ok, err := st.InsertJob(ctx, &job.Job{
		ID: "b", UserID: "u1", Type: job.TypeReminder,
		ScheduledFor: at, Payload: `{"message":"x"}`,
		Status: job.StatusPending, MaxAttempts: 3, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if ok {
		t.Fatal("duplicate insert reported inserted=true")
	}

	// Completing the first clears the dedup window.
	if claimed, _ := st.ClaimJob(ctx, "a", time.Now()); !claimed {
		t.Fatal("claim failed")
	}
	if err := st.CompleteJob(ctx, "a", time.Now()); err != nil {
		t.Fatal(err)
	}
	ok, err = st.InsertJob(ctx, &job.Job{
		ID: "c", UserID: "u1", Type: job.TypeReminder,
		ScheduledFor: at, Payload: `{"message":"x"}`,
		Status: job.StatusPending, MaxAttempts: 3, CreatedAt: time.Now(),
	})
	if err != nil || !ok {
		t.Fatalf("insert after completion: inserted=%v err=%v", ok, err)
	}
}

func TestClaimJobIsConditional(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	insertTestJob(t, st, "a", "u1", time.Now().Unix(), `{"message":"x"}`)

	claimed, err := st.ClaimJob(ctx, "a", time.Now())
	if err != nil || !claimed {
		t.Fatalf("first claim: claimed=%v err=%v", claimed, err)
	}
	claimed, err = st.ClaimJob(ctx, "a", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Fatal("second claim succeeded on a processing row")
	}

	j, err := st.GetJob(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != job.StatusProcessing || j.Attempts != 1 || j.ClaimedAt == nil {
		t.Fatalf("job = %+v, want processing/attempts=1/claimed_at set", j)
	}
}

func TestDueJobsOrderAndLimit(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().Unix()

	insertTestJob(t, st, "late", "u1", now-60, `{"message":"late"}`)
	insertTestJob(t, st, "early", "u1", now-3600, `{"message":"early"}`)
	insertTestJob(t, st, "mid", "u1", now-600, `{"message":"mid"}`)
	insertTestJob(t, st, "future", "u1", now+3600, `{"message":"future"}`)

	due, err := st.DueJobs(ctx, now, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 || due[0].ID != "early" || due[1].ID != "mid" {
		t.Fatalf("due = %+v, want [early mid]", due)
	}
}

func TestResetStuckJobsKeysOnClaimTime(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	// Due long ago but claimed recently: still legitimately running.
	insertTestJob(t, st, "running", "u1", now.Add(-time.Hour).Unix(), `{"message":"a"}`)
	if ok, _ := st.ClaimJob(ctx, "running", now.Add(-time.Minute)); !ok {
		t.Fatal("claim running")
	}
	// Claimed long ago: crashed mid-flight.
	insertTestJob(t, st, "stuck", "u1", now.Add(-time.Hour).Unix(), `{"message":"b"}`)
	if ok, _ := st.ClaimJob(ctx, "stuck", now.Add(-10*time.Minute)); !ok {
		t.Fatal("claim stuck")
	}

	reset, failed, err := st.ResetStuckJobs(ctx, now, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if reset != 1 || failed != 0 {
		t.Fatalf("reset=%d failed=%d, want 1/0", reset, failed)
	}
	j, _ := st.GetJob(ctx, "stuck")
	if j.Status != job.StatusPending || j.ClaimedAt != nil || j.Error != stuckMarker {
		t.Fatalf("stuck job = %+v, want pending with marker", j)
	}
	j, _ = st.GetJob(ctx, "running")
	if j.Status != job.StatusProcessing {
		t.Fatalf("recently claimed job reset: %+v", j)
	}
}

func TestResetStuckJobsFailsExhaustedAndFreesDedup(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	// Drive the job to its last attempt, then simulate a crash mid-handler:
	// it stays in processing with attempts == max_attempts.
	insertTestJob(t, st, "doomed", "u1", now.Add(-time.Hour).Unix(), `{"message":"x"}`)
	for i := 1; i < job.DefaultMaxAttempts; i++ {
		if ok, _ := st.ClaimJob(ctx, "doomed", now.Add(-time.Hour)); !ok {
			t.Fatalf("claim %d", i)
		}
		if err := st.RetryJob(ctx, "doomed", now.Add(-time.Hour).Unix(), "boom"); err != nil {
			t.Fatal(err)
		}
	}
	if ok, _ := st.ClaimJob(ctx, "doomed", now.Add(-10*time.Minute)); !ok {
		t.Fatal("final claim")
	}

	reset, failed, err := st.ResetStuckJobs(ctx, now, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if reset != 0 || failed != 1 {
		t.Fatalf("reset=%d failed=%d, want 0/1", reset, failed)
	}
	j, _ := st.GetJob(ctx, "doomed")
	if j.Status != job.StatusFailed || j.ProcessedAt == nil || j.Error != stuckFailMarker {
		t.Fatalf("doomed job = %+v, want terminal failure with marker", j)
	}

	// The terminal row no longer occupies the dedup slot.
	ok, err := st.InsertJob(ctx, &job.Job{
		ID: "again", UserID: "u1", Type: job.TypeReminder,
		ScheduledFor: now.Add(time.Hour).Unix(), Payload: `{"message":"x"}`,
		Status: job.StatusPending, MaxAttempts: job.DefaultMaxAttempts, CreatedAt: now,
	})
	if err != nil || !ok {
		t.Fatalf("re-schedule after terminal failure: inserted=%v err=%v", ok, err)
	}
}

func TestDeleteTerminalJobsRetention(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	insertTestJob(t, st, "old", "u1", now.Add(-30*24*time.Hour).Unix(), `{"message":"a"}`)
	if ok, _ := st.ClaimJob(ctx, "old", now); !ok {
		t.Fatal("claim old")
	}
	if err := st.CompleteJob(ctx, "old", now.Add(-8*24*time.Hour)); err != nil {
		t.Fatal(err)
	}
	insertTestJob(t, st, "recent", "u1", now.Add(-time.Hour).Unix(), `{"message":"b"}`)
	if ok, _ := st.ClaimJob(ctx, "recent", now); !ok {
		t.Fatal("claim recent")
	}
	if err := st.CompleteJob(ctx, "recent", now); err != nil {
		t.Fatal(err)
	}
	insertTestJob(t, st, "live", "u1", now.Add(time.Hour).Unix(), `{"message":"c"}`)

	n, err := st.DeleteTerminalJobsBefore(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted %d, want 1", n)
	}
	if _, err := st.GetJob(ctx, "recent"); err != nil {
		t.Fatalf("recent job gone: %v", err)
	}
	if _, err := st.GetJob(ctx, "live"); err != nil {
		t.Fatalf("live job gone: %v", err)
	}
}

func TestCancelPendingByPayloadField(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	at := time.Now().Add(time.Hour).Unix()

	insertTestJob(t, st, "a", "u1", at, `{"message":"x","ref":"memo-1"}`)
	insertTestJob(t, st, "b", "u1", at, `{"message":"y","ref":"memo-2"}`)

	n, err := st.CancelPendingByPayloadField(ctx, "u1", job.TypeReminder, "ref", "memo-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("cancelled %d, want 1", n)
	}
	j, _ := st.GetJob(ctx, "a")
	if j.Status != job.StatusCancelled || j.ProcessedAt == nil {
		t.Fatalf("job = %+v, want cancelled with processed_at stamped", j)
	}
}

func seedStoreTrigger(t *testing.T, st *Store, id string, next time.Time) {
	t.Helper()
	now := time.Now()
	err := st.CreateTrigger(context.Background(), &trigger.Trigger{
		ID:             id,
		UserID:         "u1",
		Name:           "t " + id,
		OriginalInput:  "daily at 9am",
		CronExpression: "0 9 * * *",
		ActionType:     trigger.ActionReminder,
		ActionPayload:  `{"message":"x"}`,
		Timezone:       "UTC",
		IsActive:       true,
		NextTriggerAt:  next,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("create trigger %s: %v", id, err)
	}
}

func TestMarkTriggerFailureDisablesAtThreshold(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	seedStoreTrigger(t, st, "t1", time.Now())

	next := time.Now().Add(time.Hour)
	for i := 1; i <= trigger.DisableAfterErrors; i++ {
		if err := st.MarkTriggerFailure(ctx, "t1", next, "boom", trigger.DisableAfterErrors); err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		tr, err := st.GetTrigger(ctx, "t1")
		if err != nil {
			t.Fatal(err)
		}
		if tr.ErrorCount != i {
			t.Fatalf("error_count = %d, want %d", tr.ErrorCount, i)
		}
		wantActive := i < trigger.DisableAfterErrors
		if tr.IsActive != wantActive {
			t.Fatalf("after failure %d: is_active = %v, want %v", i, tr.IsActive, wantActive)
		}
		if tr.LastError != "boom" {
			t.Fatalf("last_error = %q", tr.LastError)
		}
	}
}

func TestMarkTriggerSuccessResetsFailureState(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	seedStoreTrigger(t, st, "t1", time.Now())

	next := time.Now().Add(time.Hour)
	for i := 0; i < trigger.DisableAfterErrors-1; i++ {
		if err := st.MarkTriggerFailure(ctx, "t1", next, "boom", trigger.DisableAfterErrors); err != nil {
			t.Fatal(err)
		}
	}
	fired := time.Now()
	if err := st.MarkTriggerSuccess(ctx, "t1", fired, next); err != nil {
		t.Fatal(err)
	}

	tr, err := st.GetTrigger(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !tr.IsActive || tr.ErrorCount != 0 || tr.LastError != "" {
		t.Fatalf("trigger = %+v, want active with failure state cleared", tr)
	}
	if tr.LastTriggeredAt == nil || tr.LastTriggeredAt.Unix() != fired.Unix() {
		t.Fatalf("last_triggered_at = %v, want %v", tr.LastTriggeredAt, fired)
	}
}

func TestSetTriggerActiveReenableClearsErrors(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	seedStoreTrigger(t, st, "t1", time.Now())

	next := time.Now().Add(time.Hour)
	for i := 0; i < trigger.DisableAfterErrors; i++ {
		if err := st.MarkTriggerFailure(ctx, "t1", next, "boom", trigger.DisableAfterErrors); err != nil {
			t.Fatal(err)
		}
	}

	found, err := st.SetTriggerActive(ctx, "t1", true)
	if err != nil || !found {
		t.Fatalf("re-enable: found=%v err=%v", found, err)
	}
	tr, _ := st.GetTrigger(ctx, "t1")
	if !tr.IsActive || tr.ErrorCount != 0 || tr.LastError != "" {
		t.Fatalf("trigger = %+v, want clean re-enabled state", tr)
	}
}

func TestDueTriggersFiltersAndOrders(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	seedStoreTrigger(t, st, "b", now.Add(-time.Minute))
	seedStoreTrigger(t, st, "a", now.Add(-time.Hour))
	seedStoreTrigger(t, st, "future", now.Add(time.Hour))
	seedStoreTrigger(t, st, "disabled", now.Add(-time.Hour))
	if _, err := st.SetTriggerActive(ctx, "disabled", false); err != nil {
		t.Fatal(err)
	}

	due, err := st.DueTriggers(ctx, now, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 || due[0].ID != "a" || due[1].ID != "b" {
		t.Fatalf("due = %+v, want [a b]", due)
	}
}

func TestExecutionLogRoundTripAndRetention(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	old := &trigger.ExecutionLog{
		ID: "e1", TriggerID: "t1", UserID: "u1",
		ScheduledAt: now.Add(-40 * 24 * time.Hour), ExecutedAt: now.Add(-40 * 24 * time.Hour),
		Status: trigger.ExecutionSuccess, Result: `{"ok":true}`,
	}
	fresh := &trigger.ExecutionLog{
		ID: "e2", TriggerID: "t1", UserID: "u1",
		ScheduledAt: now, ExecutedAt: now,
		Status: trigger.ExecutionError, ErrorMessage: "boom", ExecutionTimeMS: 12,
	}
	for _, e := range []*trigger.ExecutionLog{old, fresh} {
		if err := st.AppendExecutionLog(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	logs, err := st.ListExecutionLogs(ctx, "t1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("logs = %d, want 2", len(logs))
	}
	if logs[0].ID != "e2" {
		t.Fatalf("logs[0] = %+v, want newest first", logs[0])
	}
	if logs[0].ErrorMessage != "boom" || logs[0].ExecutionTimeMS != 12 {
		t.Fatalf("log round-trip lost fields: %+v", logs[0])
	}

	n, err := st.DeleteExecutionLogsBefore(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted %d, want 1", n)
	}
}

func TestUserSettingsRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.UserSettings(ctx, "nobody"); err != settings.ErrNotFound {
		t.Fatalf("missing settings err = %v, want ErrNotFound", err)
	}

	in := settings.Settings{UserID: "u1", ChatID: 42, ProactiveEnabled: true, Timezone: "Asia/Jakarta"}
	if err := st.PutUserSettings(ctx, in); err != nil {
		t.Fatal(err)
	}
	got, err := st.UserSettings(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got != in {
		t.Fatalf("settings = %+v, want %+v", got, in)
	}

	// Upsert replaces.
	in.ProactiveEnabled = false
	if err := st.PutUserSettings(ctx, in); err != nil {
		t.Fatal(err)
	}
	got, _ = st.UserSettings(ctx, "u1")
	if got.ProactiveEnabled {
		t.Fatal("upsert did not replace proactive_enabled")
	}
}

func TestMessagesRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for i, body := range []string{"first", "second"} {
		err := st.AppendMessage(ctx, &message.Message{
			ID:        string(rune('a' + i)),
			UserID:    "u1",
			Source:    "job:reminder",
			Title:     "Reminder",
			Body:      body,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := st.ListUserMessages(ctx, "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
}

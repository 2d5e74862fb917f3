package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pulse/internal/message"
	"pulse/internal/notify"
	"pulse/internal/settings"
	logx "pulse/pkg/logx"
)

// ExecutorConfig tunes one executor batch.
type ExecutorConfig struct {
	BatchSize     int           // default 50
	ActionTimeout time.Duration // default 30s, per action
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 30 * time.Second
	}
	return c
}

// Executor fires due triggers. Items run sequentially in due order; a
// failing trigger never aborts the batch. Five consecutive failures trip the
// per-trigger circuit breaker (is_active=false) until someone re-enables it.
type Executor struct {
	store    Store
	settings settings.Lookup
	messages message.Sink
	notifier *notify.Service
	query    QueryRunner
	log      logx.Logger
	cfg      ExecutorConfig
	now      func() time.Time
}

// QueryRunner answers free-form query/custom trigger actions. Optional; when
// nil those actions degrade to echoing their payload.
type QueryRunner interface {
	RunQuery(ctx context.Context, prompt string) (string, error)
}

func NewExecutor(store Store, st settings.Lookup, sink message.Sink, notifier *notify.Service, query QueryRunner, cfg ExecutorConfig, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{
		store:    store,
		settings: st,
		messages: sink,
		notifier: notifier,
		query:    query,
		log:      log,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// ProcessDueTriggers executes one batch of active triggers whose
// next_trigger_at has passed. Never returns an error for per-item failures;
// only the initial due query can fail.
func (e *Executor) ProcessDueTriggers(ctx context.Context) (Summary, error) {
	now := e.now()
	due, err := e.store.DueTriggers(ctx, now, e.cfg.BatchSize)
	if err != nil {
		return Summary{}, fmt.Errorf("due triggers: %w", err)
	}

	var sum Summary
	for i := range due {
		switch e.executeTrigger(ctx, &due[i]) {
		case ExecutionSuccess:
			sum.Executed++
		case ExecutionError:
			sum.Failed++
		case ExecutionSkipped:
			sum.Skipped++
		}
	}
	if sum.Executed+sum.Failed+sum.Skipped > 0 {
		e.log.Info("trigger batch done",
			logx.Int("executed", sum.Executed),
			logx.Int("failed", sum.Failed),
			logx.Int("skipped", sum.Skipped))
	}
	return sum, nil
}

func (e *Executor) executeTrigger(ctx context.Context, t *Trigger) ExecutionStatus {
	start := e.now()
	next := e.nextFireTime(t, start)

	st, serr := e.settings.UserSettings(ctx, t.UserID)
	if serr != nil && !errors.Is(serr, settings.ErrNotFound) {
		// A broken settings read is a failed execution, not a user opt-out:
		// it must not consume the fire window as a silent skip.
		e.log.Warn("settings lookup failed", logx.String("trigger_id", t.ID), logx.Err(serr))
		e.appendLog(ctx, t, start, ExecutionError, "", serr.Error())
		if merr := e.store.MarkTriggerFailure(ctx, t.ID, next, serr.Error(), DisableAfterErrors); merr != nil {
			e.log.Error("mark failure failed", logx.String("trigger_id", t.ID), logx.Err(merr))
		}
		return ExecutionError
	}
	proactive := serr == nil && st.ProactiveEnabled

	if !proactive {
		// Skipping must never stall the schedule.
		e.appendLog(ctx, t, start, ExecutionSkipped, `{"reason":"proactive_disabled"}`, "")
		if err := e.store.AdvanceTrigger(ctx, t.ID, next); err != nil {
			e.log.Error("advance after skip failed", logx.String("trigger_id", t.ID), logx.Err(err))
		}
		return ExecutionSkipped
	}

	actx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	out, err := e.runAction(actx, t)
	cancel()

	if err != nil {
		e.log.Warn("trigger action failed",
			logx.String("trigger_id", t.ID),
			logx.String("action", string(t.ActionType)),
			logx.Int("error_count", t.ErrorCount+1),
			logx.Err(err))
		e.appendLog(ctx, t, start, ExecutionError, "", err.Error())
		if merr := e.store.MarkTriggerFailure(ctx, t.ID, next, err.Error(), DisableAfterErrors); merr != nil {
			e.log.Error("mark failure failed", logx.String("trigger_id", t.ID), logx.Err(merr))
		}
		return ExecutionError
	}

	e.deliver(ctx, t, st.ChatID, out)

	result, _ := json.Marshal(map[string]any{
		"action": string(t.ActionType),
		"title":  out.Title,
		"chars":  len(out.Body),
	})
	e.appendLog(ctx, t, start, ExecutionSuccess, string(result), "")
	if err := e.store.MarkTriggerSuccess(ctx, t.ID, start, next); err != nil {
		e.log.Error("mark success failed", logx.String("trigger_id", t.ID), logx.Err(err))
	}
	return ExecutionSuccess
}

// nextFireTime computes the advance target. An expression that no longer
// parses still advances an hour out so a broken trigger cannot hot-loop.
func (e *Executor) nextFireTime(t *Trigger, now time.Time) time.Time {
	next, err := CalculateNextTrigger(t.CronExpression, t.Timezone, now)
	if err != nil {
		e.log.Warn("stored cron no longer parses",
			logx.String("trigger_id", t.ID),
			logx.String("cron", t.CronExpression),
			logx.Err(err))
		return now.Add(time.Hour)
	}
	return next
}

func (e *Executor) deliver(ctx context.Context, t *Trigger, chatID int64, out actionOutcome) {
	if err := e.messages.AppendMessage(ctx, &message.Message{
		ID:        uuid.NewString(),
		UserID:    t.UserID,
		Source:    "trigger:" + string(t.ActionType),
		Title:     out.Title,
		Body:      out.Body,
		CreatedAt: e.now(),
	}); err != nil {
		e.log.Error("persist message failed", logx.String("trigger_id", t.ID), logx.Err(err))
	}
	e.notifier.Push(ctx, chatID, notify.Notification{
		Title: out.Title,
		Body:  out.Body,
		Data:  map[string]string{"trigger_id": t.ID, "action": string(t.ActionType)},
	})
}

func (e *Executor) appendLog(ctx context.Context, t *Trigger, start time.Time, status ExecutionStatus, result, errMsg string) {
	entry := &ExecutionLog{
		ID:              uuid.NewString(),
		TriggerID:       t.ID,
		UserID:          t.UserID,
		ScheduledAt:     t.NextTriggerAt,
		ExecutedAt:      start,
		Status:          status,
		Result:          result,
		ErrorMessage:    errMsg,
		ExecutionTimeMS: e.now().Sub(start).Milliseconds(),
		CreatedAt:       e.now(),
	}
	if err := e.store.AppendExecutionLog(ctx, entry); err != nil {
		e.log.Error("append execution log failed", logx.String("trigger_id", t.ID), logx.Err(err))
	}
}

// CleanupOldLogs trims execution-log history past the retention window.
func (e *Executor) CleanupOldLogs(ctx context.Context, retention time.Duration) (int64, error) {
	return e.store.DeleteExecutionLogsBefore(ctx, e.now().Add(-retention))
}

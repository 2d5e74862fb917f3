package trigger

import (
	"context"
	"time"
)

// ActionType identifies what a trigger does when it fires.
type ActionType string

const (
	ActionReminder ActionType = "reminder"
	ActionBriefing ActionType = "briefing"
	ActionCheck    ActionType = "check"
	ActionQuery    ActionType = "query"
	ActionCustom   ActionType = "custom"
)

// DisableAfterErrors is the circuit-breaker threshold: once error_count
// reaches it the trigger is deactivated and stays off until manually
// re-enabled.
const DisableAfterErrors = 5

// Trigger is a user-defined recurring automation: a cron expression plus an
// action to perform.
type Trigger struct {
	ID              string
	UserID          string
	Name            string
	OriginalInput   string
	CronExpression  string
	AgentID         string
	ActionType      ActionType
	ActionPayload   string
	Timezone        string
	IsActive        bool
	LastTriggeredAt *time.Time
	NextTriggerAt   time.Time
	ErrorCount      int
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ParsedTrigger is the transient parser output a caller persists as a Trigger.
type ParsedTrigger struct {
	CronExpression string
	HumanReadable  string
	ActionType     ActionType
	ActionPayload  string
	Confidence     float64
	Timezone       string
	NextTriggerAt  time.Time
}

// ExecutionStatus is the outcome of one execution attempt.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionError   ExecutionStatus = "error"
	ExecutionSkipped ExecutionStatus = "skipped"
)

// ExecutionLog is one append-only record per execution attempt.
type ExecutionLog struct {
	ID              string
	TriggerID       string
	UserID          string
	ScheduledAt     time.Time
	ExecutedAt      time.Time
	Status          ExecutionStatus
	Result          string
	ErrorMessage    string
	ExecutionTimeMS int64
	CreatedAt       time.Time
}

// Summary reports one executor batch.
type Summary struct {
	Executed int
	Failed   int
	Skipped  int
}

// Store is the persistence contract the executor and the CRUD surface run
// against. The sqlite implementation lives in internal/store.
type Store interface {
	CreateTrigger(ctx context.Context, t *Trigger) error
	GetTrigger(ctx context.Context, id string) (*Trigger, error)
	ListUserTriggers(ctx context.Context, userID string) ([]Trigger, error)
	// SetTriggerActive is the manual re-enable path after a circuit break;
	// it also clears error_count and last_error when activating.
	SetTriggerActive(ctx context.Context, id string, active bool) (bool, error)
	DeleteTrigger(ctx context.Context, id string) (bool, error)

	// DueTriggers returns up to limit active triggers with
	// next_trigger_at <= now, earliest first.
	DueTriggers(ctx context.Context, now time.Time, limit int) ([]Trigger, error)

	// MarkTriggerSuccess records a successful run: error_count=0, last_error
	// cleared, last_triggered_at=firedAt, next_trigger_at advanced.
	MarkTriggerSuccess(ctx context.Context, id string, firedAt, next time.Time) error
	// MarkTriggerFailure increments error_count, records the error and
	// advances next_trigger_at; when error_count reaches disableAt the
	// trigger is deactivated in the same statement.
	MarkTriggerFailure(ctx context.Context, id string, next time.Time, errMsg string, disableAt int) error
	// AdvanceTrigger moves next_trigger_at without touching error state
	// (the skipped-execution path).
	AdvanceTrigger(ctx context.Context, id string, next time.Time) error

	AppendExecutionLog(ctx context.Context, e *ExecutionLog) error
	ListExecutionLogs(ctx context.Context, triggerID string, limit int) ([]ExecutionLog, error)
	DeleteExecutionLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

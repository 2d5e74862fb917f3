package job

import (
	"context"
	"time"
)

// Status is the lifecycle state of a scheduled job.
//
// Transitions:
//
//	pending -> processing -> completed
//	pending -> processing -> pending   (retry with backoff)
//	pending -> processing -> failed    (attempts exhausted)
//	processing -> pending              (stuck reset)
//	pending -> cancelled               (via Scheduler)
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status can never change again
// (except by retention cleanup).
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Type identifies the handler a job is dispatched to.
type Type string

const (
	TypeReminder Type = "reminder"
	TypeBriefing Type = "briefing"
	TypeFollowUp Type = "follow_up"
)

// KnownTypes lists every type with a built-in payload schema.
func KnownTypes() []Type {
	return []Type{TypeReminder, TypeBriefing, TypeFollowUp}
}

// DefaultMaxAttempts is used when a job is scheduled without an override.
const DefaultMaxAttempts = 3

// Job is a unit of deferred work scheduled for an exact time, keyed by
// user, type and payload.
type Job struct {
	ID           string
	UserID       string
	Type         Type
	ScheduledFor int64 // epoch seconds
	Payload      string
	Status       Status
	Attempts     int
	MaxAttempts  int
	CreatedAt    time.Time
	ClaimedAt    *time.Time
	ProcessedAt  *time.Time
	Error        string
}

// Stats is a per-user aggregate of job counts.
type Stats struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int

	// DueToday counts non-cancelled jobs scheduled from the local-midnight
	// anchor of the stats query onward through the end of that day.
	DueToday int
}

// Summary reports one processing batch. Retried jobs count in neither bucket.
type Summary struct {
	Processed int
	Failed    int
}

// Store is the persistence contract the Scheduler and Processor run against.
// The sqlite implementation lives in internal/store; tests use in-memory fakes.
type Store interface {
	// InsertJob inserts a pending job. inserted=false (with a nil error)
	// means the dedup constraint matched an existing non-terminal job.
	InsertJob(ctx context.Context, j *Job) (inserted bool, err error)

	// CancelPending flips pending rows to cancelled. payload=="" matches any
	// payload. Processing and terminal rows are never touched.
	CancelPending(ctx context.Context, userID string, typ Type, payload string) (int64, error)
	// CancelPendingByPayloadField cancels pending rows whose JSON payload has
	// the given top-level field equal to value.
	CancelPendingByPayloadField(ctx context.Context, userID string, typ Type, field, value string) (int64, error)
	CancelPendingByID(ctx context.Context, id string) (bool, error)

	// RescheduleJob moves a pending or failed job to a new time, resetting
	// attempts to zero and returning it to pending.
	RescheduleJob(ctx context.Context, id string, at int64) (bool, error)

	PendingJobs(ctx context.Context, userID string) ([]Job, error)
	JobStats(ctx context.Context, userID string, dayStart, dayEnd int64) (Stats, error)

	// DueJobs returns up to limit pending jobs with scheduled_for <= now,
	// earliest first.
	DueJobs(ctx context.Context, now int64, limit int) ([]Job, error)
	// ClaimJob atomically moves a pending job to processing, incrementing
	// attempts and recording the claim time. claimed=false means another
	// invoker won the row (or it was cancelled) — skip it.
	ClaimJob(ctx context.Context, id string, now time.Time) (claimed bool, err error)
	CompleteJob(ctx context.Context, id string, now time.Time) error
	// RetryJob returns a processing job to pending at a later time,
	// recording the handler error.
	RetryJob(ctx context.Context, id string, at int64, errMsg string) error
	FailJob(ctx context.Context, id string, now time.Time, errMsg string) error

	// ResetStuckJobs rescues processing jobs claimed before the cutoff:
	// rows short of max_attempts go back to pending with a marker error;
	// rows out of attempts fail terminally so their dedup slot frees up.
	ResetStuckJobs(ctx context.Context, now, claimedBefore time.Time) (reset, failed int64, err error)
	// DeleteTerminalJobsBefore hard-deletes terminal rows processed before
	// the cutoff.
	DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

package job

import (
	"context"
	"time"

	"github.com/google/uuid"

	logx "pulse/pkg/logx"
)

// PastGrace is how far in the past a job may still be scheduled.
// Anything older is silently rejected (domain events can arrive late;
// re-delivering them as instant jobs would be noise).
const PastGrace = 60 * time.Second

// Scheduler creates, cancels and reschedules jobs. It never mutates a job
// that the Processor has picked up.
type Scheduler struct {
	store Store
	log   logx.Logger

	now func() time.Time
}

func NewScheduler(store Store, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{store: store, log: log, now: time.Now}
}

// ScheduleJob validates the payload and inserts a pending job.
//
// The returned id is empty (with a nil error) in two deliberate cases:
//   - at is more than PastGrace in the past
//   - an identical non-terminal job already exists (dedup constraint);
//     repeated domain events are idempotent at the request level
func (s *Scheduler) ScheduleJob(ctx context.Context, userID string, typ Type, at time.Time, payload any) (string, error) {
	encoded, err := EncodePayload(typ, payload)
	if err != nil {
		return "", err
	}

	now := s.now()
	if at.Before(now.Add(-PastGrace)) {
		s.log.Debug("job rejected: too far in the past",
			logx.String("user", userID), logx.String("type", string(typ)),
			logx.Time("at", at))
		return "", nil
	}

	j := &Job{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         typ,
		ScheduledFor: at.Unix(),
		Payload:      encoded,
		Status:       StatusPending,
		MaxAttempts:  DefaultMaxAttempts,
		CreatedAt:    now,
	}
	inserted, err := s.store.InsertJob(ctx, j)
	if err != nil {
		return "", err
	}
	if !inserted {
		s.log.Debug("job deduplicated",
			logx.String("user", userID), logx.String("type", string(typ)))
		return "", nil
	}
	s.log.Debug("job scheduled",
		logx.String("id", j.ID), logx.String("user", userID),
		logx.String("type", string(typ)), logx.Time("at", at))
	return j.ID, nil
}

// CancelJobs cancels pending jobs for a user and type; payload=="" matches
// any payload. Processing and terminal jobs are untouched.
func (s *Scheduler) CancelJobs(ctx context.Context, userID string, typ Type, payload string) (int64, error) {
	return s.store.CancelPending(ctx, userID, typ, payload)
}

// CancelJobsByPayloadField cancels pending jobs whose JSON payload carries
// field == value (e.g. field "ref").
func (s *Scheduler) CancelJobsByPayloadField(ctx context.Context, userID string, typ Type, field, value string) (int64, error) {
	return s.store.CancelPendingByPayloadField(ctx, userID, typ, field, value)
}

func (s *Scheduler) CancelJobByID(ctx context.Context, id string) (bool, error) {
	return s.store.CancelPendingByID(ctx, id)
}

// RescheduleJob moves a pending or failed job to a new time, resetting its
// attempt counter. Returns false if the job is in any other state.
func (s *Scheduler) RescheduleJob(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.store.RescheduleJob(ctx, id, at.Unix())
}

func (s *Scheduler) UserPendingJobs(ctx context.Context, userID string) ([]Job, error) {
	return s.store.PendingJobs(ctx, userID)
}

// UserStats aggregates job counts for a user. "Today" is anchored at local
// midnight of the scheduler's clock, not a timezone-aware calendar.
func (s *Scheduler) UserStats(ctx context.Context, userID string) (Stats, error) {
	now := s.now()
	y, m, d := now.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.Add(24 * time.Hour)
	return s.store.JobStats(ctx, userID, dayStart.Unix(), dayEnd.Unix())
}

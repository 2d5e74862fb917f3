package store

import (
	"context"
	"database/sql"
	"time"

	"pulse/internal/job"
)

const jobColumns = `id, user_id, job_type, scheduled_for, payload, status,
	attempts, max_attempts, created_at, claimed_at, processed_at, error`

func scanJob(row interface{ Scan(...any) error }) (job.Job, error) {
	var (
		j         job.Job
		createdAt int64
		claimed   sql.NullInt64
		processed sql.NullInt64
		errMsg    sql.NullString
	)
	err := row.Scan(&j.ID, &j.UserID, &j.Type, &j.ScheduledFor, &j.Payload, &j.Status,
		&j.Attempts, &j.MaxAttempts, &createdAt, &claimed, &processed, &errMsg)
	if err != nil {
		return job.Job{}, err
	}
	j.CreatedAt = time.Unix(createdAt, 0)
	j.ClaimedAt = unixPtr(claimed)
	j.ProcessedAt = unixPtr(processed)
	j.Error = errMsg.String
	return j, nil
}

func (s *Store) InsertJob(ctx context.Context, j *job.Job) (bool, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs
		   (id, user_id, job_type, scheduled_for, payload, status, attempts, max_attempts, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		j.ID, j.UserID, string(j.Type), j.ScheduledFor, j.Payload,
		string(j.Status), j.Attempts, j.MaxAttempts, j.CreatedAt.Unix(),
	)
	if isUniqueViolation(err) {
		// Dedup constraint: an identical non-terminal job already exists.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) CancelPending(ctx context.Context, userID string, typ job.Type, payload string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	// Cancellation stamps processed_at so retention cleanup can age the row out.
	if payload == "" {
		res, err = s.db.ExecContext(ctx,
			`UPDATE scheduled_jobs SET status='cancelled', processed_at=strftime('%s','now')
			 WHERE user_id=? AND job_type=? AND status='pending'`,
			userID, string(typ),
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE scheduled_jobs SET status='cancelled', processed_at=strftime('%s','now')
			 WHERE user_id=? AND job_type=? AND payload=? AND status='pending'`,
			userID, string(typ), payload,
		)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CancelPendingByPayloadField(ctx context.Context, userID string, typ job.Type, field, value string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status='cancelled', processed_at=strftime('%s','now')
		 WHERE user_id=? AND job_type=? AND status='pending'
		   AND json_extract(payload, '$.' || ?) = ?`,
		userID, string(typ), field, value,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CancelPendingByID(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status='cancelled', processed_at=strftime('%s','now')
		 WHERE id=? AND status='pending'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) RescheduleJob(ctx context.Context, id string, at int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs
		 SET status='pending', scheduled_for=?, attempts=0, error=NULL,
		     claimed_at=NULL, processed_at=NULL
		 WHERE id=? AND status IN ('pending','failed')`,
		at, id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) PendingJobs(ctx context.Context, userID string) ([]job.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs
		 WHERE user_id=? AND status='pending'
		 ORDER BY scheduled_for ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) JobStats(ctx context.Context, userID string, dayStart, dayEnd int64) (job.Stats, error) {
	var st job.Stats
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM scheduled_jobs WHERE user_id=? GROUP BY status`,
		userID,
	)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return st, err
		}
		switch job.Status(status) {
		case job.StatusPending:
			st.Pending = n
		case job.StatusProcessing:
			st.Processing = n
		case job.StatusCompleted:
			st.Completed = n
		case job.StatusFailed:
			st.Failed = n
		case job.StatusCancelled:
			st.Cancelled = n
		}
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scheduled_jobs
		 WHERE user_id=? AND status != 'cancelled' AND scheduled_for >= ? AND scheduled_for < ?`,
		userID, dayStart, dayEnd,
	).Scan(&st.DueToday)
	return st, err
}

func (s *Store) DueJobs(ctx context.Context, now int64, limit int) ([]job.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs
		 WHERE status='pending' AND scheduled_for <= ?
		 ORDER BY scheduled_for ASC
		 LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) ClaimJob(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs
		 SET status='processing', attempts=attempts+1, claimed_at=?
		 WHERE id=? AND status='pending'`,
		now.Unix(), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) CompleteJob(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status='completed', processed_at=?, error=NULL
		 WHERE id=? AND status='processing'`,
		now.Unix(), id,
	)
	return err
}

func (s *Store) RetryJob(ctx context.Context, id string, at int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs
		 SET status='pending', scheduled_for=?, error=?, claimed_at=NULL
		 WHERE id=? AND status='processing'`,
		at, nullStr(errMsg), id,
	)
	return err
}

func (s *Store) FailJob(ctx context.Context, id string, now time.Time, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status='failed', processed_at=?, error=?
		 WHERE id=? AND status='processing'`,
		now.Unix(), nullStr(errMsg), id,
	)
	return err
}

const (
	stuckMarker     = "reset: stuck in processing"
	stuckFailMarker = "failed: stuck in processing, attempts exhausted"
)

func (s *Store) ResetStuckJobs(ctx context.Context, now, claimedBefore time.Time) (reset, failed int64, err error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs
		 SET status='pending', claimed_at=NULL, error=?
		 WHERE status='processing' AND claimed_at IS NOT NULL AND claimed_at < ?
		   AND attempts < max_attempts`,
		stuckMarker, claimedBefore.Unix(),
	)
	if err != nil {
		return 0, 0, err
	}
	if reset, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}

	// A crash on the final attempt leaves the row in processing with no
	// attempts left; nothing else will ever touch it, and as long as it
	// stays non-terminal it blocks identical jobs via the dedup index.
	res, err = s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs
		 SET status='failed', claimed_at=NULL, processed_at=?, error=?
		 WHERE status='processing' AND claimed_at IS NOT NULL AND claimed_at < ?
		   AND attempts >= max_attempts`,
		now.Unix(), stuckFailMarker, claimedBefore.Unix(),
	)
	if err != nil {
		return reset, 0, err
	}
	failed, err = res.RowsAffected()
	return reset, failed, err
}

func (s *Store) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduled_jobs
		 WHERE status IN ('completed','failed','cancelled')
		   AND processed_at IS NOT NULL AND processed_at < ?`,
		cutoff.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetJob is used by tests and diagnostics.
func (s *Store) GetJob(ctx context.Context, id string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs WHERE id=?`, id)
	j, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

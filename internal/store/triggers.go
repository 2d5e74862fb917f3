package store

import (
	"context"
	"database/sql"
	"time"

	"pulse/internal/trigger"
)

const triggerColumns = `id, user_id, name, original_input, cron_expression,
	agent_id, action_type, action_payload, timezone, is_active,
	last_triggered_at, next_trigger_at, error_count, last_error,
	created_at, updated_at`

func scanTrigger(row interface{ Scan(...any) error }) (trigger.Trigger, error) {
	var (
		t         trigger.Trigger
		agentID   sql.NullString
		active    int
		lastFired sql.NullInt64
		next      int64
		lastErr   sql.NullString
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.OriginalInput, &t.CronExpression,
		&agentID, &t.ActionType, &t.ActionPayload, &t.Timezone, &active,
		&lastFired, &next, &t.ErrorCount, &lastErr, &createdAt, &updatedAt)
	if err != nil {
		return trigger.Trigger{}, err
	}
	t.AgentID = agentID.String
	t.IsActive = active != 0
	t.LastTriggeredAt = unixPtr(lastFired)
	t.NextTriggerAt = time.Unix(next, 0)
	t.LastError = lastErr.String
	t.CreatedAt = time.Unix(createdAt, 0)
	t.UpdatedAt = time.Unix(updatedAt, 0)
	return t, nil
}

func (s *Store) CreateTrigger(ctx context.Context, t *trigger.Trigger) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_triggers
		   (id, user_id, name, original_input, cron_expression, agent_id,
		    action_type, action_payload, timezone, is_active, next_trigger_at,
		    error_count, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,0,?,?)`,
		t.ID, t.UserID, t.Name, t.OriginalInput, t.CronExpression, nullStr(t.AgentID),
		string(t.ActionType), t.ActionPayload, t.Timezone, boolInt(t.IsActive),
		t.NextTriggerAt.Unix(), t.CreatedAt.Unix(), t.UpdatedAt.Unix(),
	)
	return err
}

func (s *Store) GetTrigger(ctx context.Context, id string) (*trigger.Trigger, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+triggerColumns+` FROM user_triggers WHERE id=?`, id)
	t, err := scanTrigger(row)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListUserTriggers(ctx context.Context, userID string) ([]trigger.Trigger, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+triggerColumns+` FROM user_triggers
		 WHERE user_id=? ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trigger.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) SetTriggerActive(ctx context.Context, id string, active bool) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if active {
		// Manual re-enable clears the circuit-breaker state.
		res, err = s.db.ExecContext(ctx,
			`UPDATE user_triggers
			 SET is_active=1, error_count=0, last_error=NULL, updated_at=strftime('%s','now')
			 WHERE id=?`, id)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE user_triggers SET is_active=0, updated_at=strftime('%s','now')
			 WHERE id=?`, id)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) DeleteTrigger(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_triggers WHERE id=?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) DueTriggers(ctx context.Context, now time.Time, limit int) ([]trigger.Trigger, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+triggerColumns+` FROM user_triggers
		 WHERE is_active=1 AND next_trigger_at <= ?
		 ORDER BY next_trigger_at ASC
		 LIMIT ?`,
		now.Unix(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trigger.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) MarkTriggerSuccess(ctx context.Context, id string, firedAt, next time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_triggers
		 SET error_count=0, last_error=NULL, last_triggered_at=?, next_trigger_at=?,
		     updated_at=strftime('%s','now')
		 WHERE id=?`,
		firedAt.Unix(), next.Unix(), id,
	)
	return err
}

func (s *Store) MarkTriggerFailure(ctx context.Context, id string, next time.Time, errMsg string, disableAt int) error {
	// Single statement so the count/disable decision cannot race another
	// writer: the breaker opens exactly when error_count reaches disableAt.
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_triggers
		 SET error_count = error_count + 1,
		     last_error = ?,
		     next_trigger_at = ?,
		     is_active = CASE WHEN error_count + 1 >= ? THEN 0 ELSE is_active END,
		     updated_at = strftime('%s','now')
		 WHERE id=?`,
		nullStr(errMsg), next.Unix(), disableAt, id,
	)
	return err
}

func (s *Store) AdvanceTrigger(ctx context.Context, id string, next time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_triggers SET next_trigger_at=?, updated_at=strftime('%s','now')
		 WHERE id=?`,
		next.Unix(), id,
	)
	return err
}

func (s *Store) AppendExecutionLog(ctx context.Context, e *trigger.ExecutionLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trigger_execution_log
		   (id, trigger_id, user_id, scheduled_at, executed_at, status,
		    result, error_message, execution_time_ms, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.TriggerID, e.UserID, e.ScheduledAt.Unix(), e.ExecutedAt.Unix(),
		string(e.Status), nullStr(e.Result), nullStr(e.ErrorMessage),
		e.ExecutionTimeMS, e.CreatedAt.Unix(),
	)
	return err
}

func (s *Store) DeleteExecutionLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM trigger_execution_log WHERE executed_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListExecutionLogs is used by tests and diagnostics.
func (s *Store) ListExecutionLogs(ctx context.Context, triggerID string, limit int) ([]trigger.ExecutionLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trigger_id, user_id, scheduled_at, executed_at, status,
		        result, error_message, execution_time_ms, created_at
		 FROM trigger_execution_log
		 WHERE trigger_id=? ORDER BY executed_at DESC LIMIT ?`,
		triggerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trigger.ExecutionLog
	for rows.Next() {
		var (
			e         trigger.ExecutionLog
			schedAt   int64
			execAt    int64
			result    sql.NullString
			errMsg    sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.TriggerID, &e.UserID, &schedAt, &execAt,
			&e.Status, &result, &errMsg, &e.ExecutionTimeMS, &createdAt); err != nil {
			return nil, err
		}
		e.ScheduledAt = time.Unix(schedAt, 0)
		e.ExecutedAt = time.Unix(execAt, 0)
		e.Result = result.String
		e.ErrorMessage = errMsg.String
		e.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"pulse/internal/message"
	"pulse/internal/settings"
)

// Proactive-message sink.

func (s *Store) AppendMessage(ctx context.Context, m *message.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO proactive_messages (id, user_id, source, title, body, created_at)
		 VALUES (?,?,?,?,?,?)`,
		m.ID, m.UserID, m.Source, m.Title, m.Body, m.CreatedAt.Unix(),
	)
	return err
}

func (s *Store) ListUserMessages(ctx context.Context, userID string, limit int) ([]message.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, source, title, body, created_at
		 FROM proactive_messages
		 WHERE user_id=? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []message.Message
	for rows.Next() {
		var (
			m         message.Message
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Source, &m.Title, &m.Body, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, m)
	}
	return out, rows.Err()
}

// User settings.

func (s *Store) UserSettings(ctx context.Context, userID string) (settings.Settings, error) {
	var (
		out       settings.Settings
		proactive int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, chat_id, proactive_enabled, timezone
		 FROM user_settings WHERE user_id=?`,
		userID,
	).Scan(&out.UserID, &out.ChatID, &proactive, &out.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return settings.Settings{}, settings.ErrNotFound
	}
	if err != nil {
		return settings.Settings{}, err
	}
	out.ProactiveEnabled = proactive != 0
	return out, nil
}

func (s *Store) PutUserSettings(ctx context.Context, st settings.Settings) error {
	proactive := 0
	if st.ProactiveEnabled {
		proactive = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, chat_id, proactive_enabled, timezone)
		 VALUES (?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   chat_id=excluded.chat_id,
		   proactive_enabled=excluded.proactive_enabled,
		   timezone=excluded.timezone`,
		st.UserID, st.ChatID, proactive, st.Timezone,
	)
	return err
}

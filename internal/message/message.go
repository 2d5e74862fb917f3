// Package message is the proactive-message sink written by job handlers and
// the trigger executor. Delivery to the user's device is the notifier's
// concern; rows here are the durable record.
package message

import (
	"context"
	"time"
)

type Message struct {
	ID        string
	UserID    string
	Source    string // "job:<type>" or "trigger:<action>"
	Title     string
	Body      string
	CreatedAt time.Time
}

// Sink persists proactive messages. Implemented by internal/store.
type Sink interface {
	AppendMessage(ctx context.Context, m *Message) error
	ListUserMessages(ctx context.Context, userID string, limit int) ([]Message, error)
}

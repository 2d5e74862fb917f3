// Package settings exposes the per-user settings the scheduling core needs:
// the push target, the proactive-notifications flag and the timezone.
package settings

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("user settings not found")

type Settings struct {
	UserID string
	// ChatID is the Telegram chat the user's notifications go to.
	// Zero means the user has no push target.
	ChatID           int64
	ProactiveEnabled bool
	Timezone         string // IANA zone; empty falls back to the daemon default
}

// Lookup reads user settings. Implemented by internal/store; tests use fakes.
type Lookup interface {
	UserSettings(ctx context.Context, userID string) (Settings, error)
}

// Writer is the update surface (used by callers outside the scheduling core,
// and by tests to seed state).
type Writer interface {
	PutUserSettings(ctx context.Context, s Settings) error
}

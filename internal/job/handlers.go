package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pulse/internal/message"
	"pulse/internal/notify"
	"pulse/internal/settings"
	logx "pulse/pkg/logx"
)

// Handlers holds the collaborators the built-in job handlers share. Each
// handler persists a proactive message and pushes a notification; delivery
// failures do not fail the job, persistence failures do (and are retried by
// the processor).
type Handlers struct {
	settings settings.Lookup
	messages message.Sink
	notifier *notify.Service
	log      logx.Logger
	now      func() time.Time
}

func NewHandlers(st settings.Lookup, sink message.Sink, notifier *notify.Service, log logx.Logger) *Handlers {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handlers{settings: st, messages: sink, notifier: notifier, log: log, now: time.Now}
}

// RegisterAll wires every built-in job type into reg.
func (h *Handlers) RegisterAll(reg *Registry) {
	reg.Register(TypeReminder, HandlerFunc(h.Reminder))
	reg.Register(TypeBriefing, HandlerFunc(h.Briefing))
	reg.Register(TypeFollowUp, HandlerFunc(h.FollowUp))
}

func (h *Handlers) Reminder(ctx context.Context, j Job) error {
	var p ReminderPayload
	if err := json.Unmarshal([]byte(j.Payload), &p); err != nil {
		return fmt.Errorf("reminder payload: %w", err)
	}
	return h.emit(ctx, j, "Reminder", p.Message)
}

func (h *Handlers) Briefing(ctx context.Context, j Job) error {
	var p BriefingPayload
	if err := json.Unmarshal([]byte(j.Payload), &p); err != nil {
		return fmt.Errorf("briefing payload: %w", err)
	}
	body := "Here's your scheduled briefing."
	if len(p.Sections) > 0 {
		body = "Your briefing: " + strings.Join(p.Sections, ", ")
	}
	return h.emit(ctx, j, "Your briefing", body)
}

func (h *Handlers) FollowUp(ctx context.Context, j Job) error {
	var p FollowUpPayload
	if err := json.Unmarshal([]byte(j.Payload), &p); err != nil {
		return fmt.Errorf("follow_up payload: %w", err)
	}
	return h.emit(ctx, j, "Follow-up", "Following up on: "+p.Topic)
}

func (h *Handlers) emit(ctx context.Context, j Job, title, body string) error {
	st, err := h.settings.UserSettings(ctx, j.UserID)
	if err != nil && !errors.Is(err, settings.ErrNotFound) {
		return fmt.Errorf("settings for %s: %w", j.UserID, err)
	}

	if err := h.messages.AppendMessage(ctx, &message.Message{
		ID:        uuid.NewString(),
		UserID:    j.UserID,
		Source:    "job:" + string(j.Type),
		Title:     title,
		Body:      body,
		CreatedAt: h.now(),
	}); err != nil {
		return fmt.Errorf("persist message: %w", err)
	}

	// Push is best-effort; the persisted message is the durable outcome.
	h.notifier.Push(ctx, st.ChatID, notify.Notification{
		Title: title,
		Body:  body,
		Data:  map[string]string{"job_id": j.ID, "job_type": string(j.Type)},
	})
	return nil
}

package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type actionOutcome struct {
	Title string
	Body  string
}

// reminderPayload is what the parser stores for reminder triggers; briefing
// and check payloads reuse the same shape with only some fields set.
type actionPayload struct {
	Message string `json:"message,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
}

func decodeActionPayload(raw string) actionPayload {
	var p actionPayload
	if raw == "" {
		return p
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		// Legacy rows carry bare text instead of JSON.
		p.Message = raw
	}
	return p
}

// runAction dispatches by action type. Unknown types fail closed so a bad
// row trips the circuit breaker instead of silently succeeding forever.
func (e *Executor) runAction(ctx context.Context, t *Trigger) (actionOutcome, error) {
	p := decodeActionPayload(t.ActionPayload)

	switch t.ActionType {
	case ActionReminder:
		body := p.Message
		if body == "" {
			body = t.Name
		}
		return actionOutcome{Title: "Reminder", Body: body}, nil

	case ActionBriefing:
		return e.briefing(ctx, t, p)

	case ActionCheck:
		topic := p.Topic
		if topic == "" {
			topic = p.Message
		}
		if topic == "" {
			topic = t.Name
		}
		return actionOutcome{Title: "Check-in", Body: "Time to check on: " + topic}, nil

	case ActionQuery, ActionCustom:
		return e.answer(ctx, t, p)

	default:
		return actionOutcome{}, fmt.Errorf("unknown action type %q", t.ActionType)
	}
}

func (e *Executor) briefing(ctx context.Context, t *Trigger, p actionPayload) (actionOutcome, error) {
	if e.query != nil {
		prompt := p.Prompt
		if prompt == "" {
			prompt = "Write a short daily briefing for the user."
		}
		body, err := e.query.RunQuery(ctx, prompt)
		if err != nil {
			return actionOutcome{}, fmt.Errorf("briefing: %w", err)
		}
		return actionOutcome{Title: "Your briefing", Body: body}, nil
	}
	var b strings.Builder
	b.WriteString("Good day! Here's your scheduled briefing")
	if t.Name != "" {
		b.WriteString(" (" + t.Name + ")")
	}
	b.WriteString(".")
	return actionOutcome{Title: "Your briefing", Body: b.String()}, nil
}

func (e *Executor) answer(ctx context.Context, t *Trigger, p actionPayload) (actionOutcome, error) {
	prompt := p.Prompt
	if prompt == "" {
		prompt = p.Message
	}
	if prompt == "" {
		prompt = t.OriginalInput
	}
	if e.query == nil {
		return actionOutcome{Title: t.Name, Body: prompt}, nil
	}
	body, err := e.query.RunQuery(ctx, prompt)
	if err != nil {
		return actionOutcome{}, fmt.Errorf("%s: %w", t.ActionType, err)
	}
	title := t.Name
	if title == "" {
		title = "Scheduled task"
	}
	return actionOutcome{Title: title, Body: body}, nil
}

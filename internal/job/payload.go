package job

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Typed payloads, validated at schedule time rather than at execute time.
// Marshaling a struct keeps field order stable, so the serialized form is
// canonical enough for the dedup constraint to compare payloads byte-wise.

// ReminderPayload is carried by TypeReminder jobs.
type ReminderPayload struct {
	Message string `json:"message"`
	// Ref ties the reminder to the domain object that scheduled it
	// (e.g. a memo or task id) so it can be cancelled by field match.
	Ref string `json:"ref,omitempty"`
}

func (p ReminderPayload) validate() error {
	if strings.TrimSpace(p.Message) == "" {
		return fmt.Errorf("reminder payload: message is required")
	}
	return nil
}

// BriefingPayload is carried by TypeBriefing jobs.
type BriefingPayload struct {
	// Sections limits the briefing to the named sections; empty means all.
	Sections []string `json:"sections,omitempty"`
}

// FollowUpPayload is carried by TypeFollowUp jobs.
type FollowUpPayload struct {
	Topic string `json:"topic"`
	Ref   string `json:"ref,omitempty"`
}

func (p FollowUpPayload) validate() error {
	if strings.TrimSpace(p.Topic) == "" {
		return fmt.Errorf("follow_up payload: topic is required")
	}
	return nil
}

// EncodePayload validates a payload value against the job type's schema and
// returns its canonical serialized form.
//
// Accepted value kinds per type:
//   - TypeReminder: ReminderPayload
//   - TypeBriefing: BriefingPayload (or nil for an empty briefing)
//   - TypeFollowUp: FollowUpPayload
//
// A raw pre-serialized string is accepted for any known type as an escape
// hatch; it must be a JSON object.
func EncodePayload(typ Type, value any) (string, error) {
	if raw, ok := value.(string); ok {
		trimmed := strings.TrimSpace(raw)
		if !json.Valid([]byte(trimmed)) || !strings.HasPrefix(trimmed, "{") {
			return "", fmt.Errorf("payload for %s: raw payload must be a JSON object", typ)
		}
		return trimmed, nil
	}

	switch typ {
	case TypeReminder:
		p, ok := value.(ReminderPayload)
		if !ok {
			return "", fmt.Errorf("payload for %s: want ReminderPayload, got %T", typ, value)
		}
		if err := p.validate(); err != nil {
			return "", err
		}
		return marshalPayload(p)
	case TypeBriefing:
		if value == nil {
			return marshalPayload(BriefingPayload{})
		}
		p, ok := value.(BriefingPayload)
		if !ok {
			return "", fmt.Errorf("payload for %s: want BriefingPayload, got %T", typ, value)
		}
		return marshalPayload(p)
	case TypeFollowUp:
		p, ok := value.(FollowUpPayload)
		if !ok {
			return "", fmt.Errorf("payload for %s: want FollowUpPayload, got %T", typ, value)
		}
		if err := p.validate(); err != nil {
			return "", err
		}
		return marshalPayload(p)
	default:
		return "", fmt.Errorf("unknown job type %q", typ)
	}
}

func marshalPayload(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(b), nil
}

package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	logx "pulse/pkg/logx"
)

// Service is the CRUD surface application code talks to when a user sets up
// or manages triggers.
type Service struct {
	store     Store
	parser    *Parser
	defaultTZ string
	log       logx.Logger
	now       func() time.Time
}

// NewService builds the trigger CRUD surface. defaultTZ is the IANA zone
// used when a caller does not supply one; empty means UTC.
func NewService(store Store, parser *Parser, defaultTZ string, log logx.Logger) *Service {
	if defaultTZ == "" {
		defaultTZ = "UTC"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, parser: parser, defaultTZ: defaultTZ, log: log, now: time.Now}
}

// CreateFromInput parses a natural-language request and persists the
// resulting trigger. A *ParseError asks the caller to get clarification from
// the user; it is not retryable as-is.
func (s *Service) CreateFromInput(ctx context.Context, userID, name, input, tz string) (*Trigger, error) {
	if tz == "" {
		tz = s.defaultTZ
	}
	parsed, err := s.parser.Parse(ctx, input, tz)
	if err != nil {
		return nil, err
	}
	now := s.now()
	t := &Trigger{
		ID:             uuid.NewString(),
		UserID:         userID,
		Name:           name,
		OriginalInput:  input,
		CronExpression: parsed.CronExpression,
		ActionType:     parsed.ActionType,
		ActionPayload:  parsed.ActionPayload,
		Timezone:       parsed.Timezone,
		IsActive:       true,
		NextTriggerAt:  parsed.NextTriggerAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if t.Name == "" {
		t.Name = parsed.HumanReadable
	}
	if err := s.store.CreateTrigger(ctx, t); err != nil {
		return nil, fmt.Errorf("create trigger: %w", err)
	}
	s.log.Info("trigger created",
		logx.String("trigger_id", t.ID),
		logx.String("user_id", userID),
		logx.String("cron", t.CronExpression),
		logx.Float64("confidence", parsed.Confidence))
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Trigger, error) {
	return s.store.GetTrigger(ctx, id)
}

func (s *Service) List(ctx context.Context, userID string) ([]Trigger, error) {
	return s.store.ListUserTriggers(ctx, userID)
}

// SetActive flips the trigger on or off. Re-enabling clears the failure
// state left behind by the circuit breaker and recomputes the next fire
// time so the trigger does not immediately replay a missed window.
func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	found, err := s.store.SetTriggerActive(ctx, id, active)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("trigger %s not found", id)
	}
	if active {
		t, err := s.store.GetTrigger(ctx, id)
		if err != nil {
			return err
		}
		next, err := CalculateNextTrigger(t.CronExpression, t.Timezone, s.now())
		if err != nil {
			return err
		}
		if err := s.store.AdvanceTrigger(ctx, id, next); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	found, err := s.store.DeleteTrigger(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("trigger %s not found", id)
	}
	return nil
}

// History returns recent execution-log entries for one trigger.
func (s *Service) History(ctx context.Context, triggerID string, limit int) ([]ExecutionLog, error) {
	return s.store.ListExecutionLogs(ctx, triggerID, limit)
}

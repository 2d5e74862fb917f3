// Package notify delivers push notifications.
//
// Delivery is best-effort and fire-and-forget: failures are logged and
// recorded nowhere else. The durable record of what a user was told lives in
// the proactive-message sink, not here.
package notify

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	logx "pulse/pkg/logx"
)

// Notification is the payload handed to a Sender.
type Notification struct {
	Title string
	Body  string
	// Data rides along for clients that understand structured payloads.
	Data map[string]string
}

// Sender is a single delivery backend. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, chatID int64, n Notification) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, chatID int64, n Notification) error

func (f SenderFunc) Send(ctx context.Context, chatID int64, n Notification) error {
	return f(ctx, chatID, n)
}

// Config controls the delivery pipeline.
type Config struct {
	RatePerSec  int           // default 5
	SendTimeout time.Duration // default 30s
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	return c
}

// Service wraps a Sender with global rate limiting and a bounded send
// timeout.
type Service struct {
	sender  Sender
	log     logx.Logger
	limiter *rate.Limiter
	timeout time.Duration
}

func New(sender Sender, cfg Config, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		sender:  sender,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		timeout: cfg.SendTimeout,
	}
}

// Push sends one notification. A zero chatID (user without a push target)
// and all delivery failures are logged and swallowed — callers treat
// notification delivery as fire-and-forget.
func (s *Service) Push(ctx context.Context, chatID int64, n Notification) {
	if s == nil || s.sender == nil {
		return
	}
	if chatID == 0 {
		s.log.Debug("notification dropped: no push target", logx.String("title", n.Title))
		return
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.limiter.Wait(sctx); err != nil {
		s.log.Warn("notification dropped: rate wait", logx.Int64("chat_id", chatID), logx.Err(err))
		return
	}
	if err := s.sender.Send(sctx, chatID, n); err != nil {
		s.log.Warn("notification send failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return
	}
	s.log.Debug("notification sent", logx.Int64("chat_id", chatID), logx.String("title", n.Title))
}

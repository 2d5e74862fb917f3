package config

import "time"

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`

	// Runner controls the tick-driven processing loop (jobs + triggers).
	Runner RunnerConfig `json:"runner"`

	// Parser controls the natural-language trigger parser and its
	// AI-completion fallback. The fallback is disabled when api_key is empty.
	Parser ParserConfig `json:"parser"`

	Notify NotifyConfig `json:"notify"`

	// DefaultTimezone is the IANA zone used when a user has no timezone set
	// (e.g. "Asia/Jakarta"). Defaults to "UTC".
	DefaultTimezone string `json:"default_timezone,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the sqlite persistence layer.
//
// Example:
//
//	"storage": { "path": "./pulse.db" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// RunnerConfig controls the processing loop.
//
// All durations are Go duration strings (e.g. "30s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - tick: "1m"
//   - batch_size: 50
//   - stuck_after: "5m"
//   - job_retention: "168h" (7 days)
//   - log_retention: "720h" (30 days)
//   - cleanup_at: "0 3 * * *"
//   - tick_timeout: "55s"
type RunnerConfig struct {
	Tick        string `json:"tick,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`
	StuckAfter  string `json:"stuck_after,omitempty"`
	JobRetention string `json:"job_retention,omitempty"`
	LogRetention string `json:"log_retention,omitempty"`
	CleanupAt   string `json:"cleanup_at,omitempty"`
	TickTimeout string `json:"tick_timeout,omitempty"`
}

// ParserConfig controls the AI fallback of the trigger parser.
//
// BaseURL points at an OpenAI-compatible chat-completions endpoint.
// Timeout defaults to "30s".
type ParserConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// NotifyConfig controls push-notification delivery.
//
// Delivery is via a Telegram bot; each user's push target (chat id) comes
// from their settings row. RatePerSec bounds outgoing sends globally.
type NotifyConfig struct {
	TelegramToken string `json:"telegram_token,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"` // default "30s"
}

// RunnerSettings is RunnerConfig with durations parsed and defaults applied.
type RunnerSettings struct {
	Tick         time.Duration
	BatchSize    int
	StuckAfter   time.Duration
	JobRetention time.Duration
	LogRetention time.Duration
	CleanupAt    string
	TickTimeout  time.Duration
}

// RunnerSettings resolves the runner section.
func (c *Config) RunnerSettings() (RunnerSettings, error) {
	var (
		s   RunnerSettings
		err error
	)
	if s.Tick, err = ParseDurationOrDefault("runner.tick", c.Runner.Tick, time.Minute); err != nil {
		return s, err
	}
	s.BatchSize = c.Runner.BatchSize
	if s.BatchSize <= 0 {
		s.BatchSize = 50
	}
	if s.StuckAfter, err = ParseDurationOrDefault("runner.stuck_after", c.Runner.StuckAfter, 5*time.Minute); err != nil {
		return s, err
	}
	if s.JobRetention, err = ParseDurationOrDefault("runner.job_retention", c.Runner.JobRetention, 7*24*time.Hour); err != nil {
		return s, err
	}
	if s.LogRetention, err = ParseDurationOrDefault("runner.log_retention", c.Runner.LogRetention, 30*24*time.Hour); err != nil {
		return s, err
	}
	s.CleanupAt = c.Runner.CleanupAt
	if s.CleanupAt == "" {
		s.CleanupAt = "0 3 * * *"
	}
	if s.TickTimeout, err = ParseDurationOrDefault("runner.tick_timeout", c.Runner.TickTimeout, 55*time.Second); err != nil {
		return s, err
	}
	return s, nil
}

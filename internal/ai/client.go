// Package ai is a minimal OpenAI-compatible chat-completions client. It
// exists for two narrow uses: refining low-confidence trigger parses and
// answering query/custom trigger actions. It is not a general LLM layer.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "pulse/pkg/logx"
)

// Config is the completion endpoint. APIKey empty means the client is
// disabled; constructors return nil and callers fall back to rule-only
// behavior.
type Config struct {
	BaseURL string        // default https://api.openai.com/v1
	APIKey  string
	Model   string        // default gpt-4o-mini
	Timeout time.Duration // default 30s
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

// New returns nil when no API key is configured.
func New(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: log}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *Client) complete(ctx context.Context, messages []chatMessage, jsonMode bool) (string, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"

	reqBody := map[string]any{
		"model":    c.cfg.Model,
		"messages": messages,
	}
	if jsonMode {
		reqBody["response_format"] = map[string]string{"type": "json_object"}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("completion status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return out.Choices[0].Message.Content, nil
}

// RefineTrigger asks the model for a cron expression matching the user's
// request. The caller validates the expression before using it; this method
// only guarantees the JSON envelope.
func (c *Client) RefineTrigger(ctx context.Context, input, timezone string, today time.Time) (string, string, error) {
	system := "You convert natural-language schedule requests into standard " +
		"5-field cron expressions (minute hour day-of-month month day-of-week). " +
		"Respond with a JSON object: {\"cron\": \"...\", \"description\": \"...\"}. " +
		"No step values unless the user asked for an interval."
	user := fmt.Sprintf("Today is %s. Timezone: %s. Request: %s",
		today.Format("Monday, 2006-01-02"), timezone, input)

	content, err := c.complete(ctx, []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, true)
	if err != nil {
		return "", "", err
	}

	var parsed struct {
		Cron        string `json:"cron"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return "", "", fmt.Errorf("malformed refinement %q: %w", content, err)
	}
	if strings.TrimSpace(parsed.Cron) == "" {
		return "", "", fmt.Errorf("refinement returned empty cron")
	}
	return strings.TrimSpace(parsed.Cron), parsed.Description, nil
}

// RunQuery answers a free-form prompt with plain text.
func (c *Client) RunQuery(ctx context.Context, prompt string) (string, error) {
	content, err := c.complete(ctx, []chatMessage{
		{Role: "system", Content: "You are a concise personal assistant. Answer in a short paragraph."},
		{Role: "user", Content: prompt},
	}, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// TelegramSender delivers notifications as Telegram messages. Send-only: no
// poller is started, the bot is used purely as an outbound API client.
type TelegramSender struct {
	bot *tele.Bot
}

func NewTelegramSender(token string) (*TelegramSender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: token, Synchronous: true})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramSender{bot: b}, nil
}

func (t *TelegramSender) Send(ctx context.Context, chatID int64, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := n.Body
	if n.Title != "" {
		text = "*" + escapeMarkdown(n.Title) + "*\n" + n.Body
	}
	_, err := t.bot.Send(tele.ChatID(chatID), text, tele.ModeMarkdown)
	return err
}

func escapeMarkdown(s string) string {
	r := strings.NewReplacer("*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`)
	return r.Replace(s)
}

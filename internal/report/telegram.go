package report

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the part of *tgbotapi.BotAPI the reporter needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	api    Sender
	chatID int64
}

func NewTelegram(api Sender, chatID int64) *Telegram {
	return &Telegram{api: api, chatID: chatID}
}

// telegramTimeout bounds every Bot API request, Send included.
const telegramTimeout = 15 * time.Second

// DialTelegram logs in with token and returns a ready reporter.
func DialTelegram(token string, chatID int64) (*Telegram, error) {
	return dialTelegram(token, tgbotapi.APIEndpoint, chatID, telegramTimeout)
}

func dialTelegram(token, endpoint string, chatID int64, timeout time.Duration) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	api.Debug = false
	return NewTelegram(api, chatID), nil
}

// Report sends the summary to the chat. Send takes no context, so ctx is
// only checked up front; a dialled reporter is bounded by telegramTimeout.
func (t *Telegram) Report(ctx context.Context, s Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, FormatSummary(s))
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

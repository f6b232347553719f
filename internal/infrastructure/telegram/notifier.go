package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"DigestCurator/internal/ports"
)

const maxMessageRunes = 4096

// Notifier posts run summaries to an operator chat via the bot API.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

var _ ports.Notifier = (*Notifier)(nil)

// Options overrides the bot API endpoint and HTTP client.
type Options struct {
	Endpoint   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewNotifier authenticates the bot token and binds the target chat.
func NewNotifier(botToken string, chatID int64, opts Options) (*Notifier, error) {
	if botToken == "" || chatID == 0 {
		return nil, errors.New("telegram notifier misconfigured: bot token and chat id are required")
	}
	if opts.Endpoint == "" {
		opts.Endpoint = tgbotapi.APIEndpoint
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	api, err := tgbotapi.NewBotAPIWithClient(botToken, opts.Endpoint, opts.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	opts.Logger.Info("telegram notifier ready", "bot", api.Self.UserName, "chat_id", chatID)

	return &Notifier{api: api, chatID: chatID, logger: opts.Logger}, nil
}

// PublishRunSummary sends the summary as a plain-text message.
func (n *Notifier) PublishRunSummary(ctx context.Context, summary string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if r := []rune(summary); len(r) > maxMessageRunes {
		summary = string(r[:maxMessageRunes-1]) + "…"
	}

	msg := tgbotapi.NewMessage(n.chatID, summary)
	msg.DisableWebPagePreview = true
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	n.logger.Debug("run summary published", "chat_id", n.chatID)
	return nil
}

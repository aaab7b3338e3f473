package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"queryguard/internal/notifications/core"
	"queryguard/internal/types"
)

// TelegramClientConfig holds the configuration for creating a TelegramClient.
type TelegramClientConfig struct {
	Token  string
	APIURL string // defaults to the public Bot API
	HTTP   *http.Client
	Logger *slog.Logger
}

// TelegramClient posts escalation notices to a chat through the Bot API.
// The bot is built offline: it never polls for updates and only sends.
type TelegramClient struct {
	bot    *tele.Bot
	logger *slog.Logger
}

// NewTelegramClient creates a TelegramClient.
func NewTelegramClient(cfg TelegramClientConfig) (*TelegramClient, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	client := cfg.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Client:  client,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramClient{bot: b, logger: logger}, nil
}

func (t *TelegramClient) Channel() types.Channel { return types.ChannelTelegram }
func (t *TelegramClient) Name() string           { return "telegram" }

// chatRef addresses a chat by numeric id or @channelusername.
type chatRef string

func (c chatRef) Recipient() string { return string(c) }

// Send delivers c.Body as plain text with link previews off. The returned
// identifier is the Telegram message id.
func (t *TelegramClient) Send(ctx context.Context, to string, c core.Content) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamUnavailable, "request abandoned", err)
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return "", types.NewAppError(types.ErrCodeUpstreamRejected, "telegram chat id is empty", nil)
	}

	msg, err := t.bot.Send(chatRef(to), c.Body, &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		return "", mapTelegramError(err)
	}
	if msg == nil {
		return "", nil
	}
	return strconv.Itoa(msg.ID), nil
}

func mapTelegramError(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "telegram flood control", err).
			WithDetails(map[string]any{"retry_after_seconds": flood.RetryAfter})
	}
	if errors.Is(err, tele.ErrBlockedByUser) {
		return types.NewAppError(types.ErrCodeRecipientBlocked, "telegram bot was blocked by the recipient", err)
	}
	if errors.Is(err, tele.ErrChatNotFound) {
		return types.NewAppError(types.ErrCodeUpstreamRejected, "telegram chat not found", err)
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return types.NewAppError(types.ErrCodeUpstreamRateLimited, apiErr.Description, err)
		case apiErr.Code >= 400 && apiErr.Code < 500:
			return types.NewAppError(types.ErrCodeUpstreamRejected, apiErr.Description, err)
		}
	}
	return types.NewAppError(types.ErrCodeUpstreamMessaging, fmt.Sprintf("telegram send failed: %v", err), err)
}

var _ core.ChannelProvider = (*TelegramClient)(nil)

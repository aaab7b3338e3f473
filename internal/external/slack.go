package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"queryguard/internal/notifications/core"
	"queryguard/internal/types"
)

// SlackClientConfig holds the configuration for creating a SlackClient.
type SlackClientConfig struct {
	WebhookURL string
	Logger     *slog.Logger
}

// SlackClient posts to a Slack incoming webhook. The webhook is bound to a
// channel when it is created, so the recipient is informational unless it
// names a different channel.
type SlackClient struct {
	base       *BaseClient
	webhookURL string
	logger     *slog.Logger
}

// NewSlackClient creates a SlackClient on top of base.
func NewSlackClient(base *BaseClient, cfg SlackClientConfig) *SlackClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackClient{base: base, webhookURL: cfg.WebhookURL, logger: logger}
}

func (s *SlackClient) Channel() types.Channel { return types.ChannelSlack }
func (s *SlackClient) Name() string           { return "slack" }

type slackPayload struct {
	Text    string `json:"text"`
	Channel string `json:"channel,omitempty"`
}

// Send posts c.Body. Incoming webhooks return no message id, so the
// returned identifier is empty on success.
func (s *SlackClient) Send(ctx context.Context, to string, c core.Content) (string, error) {
	payload := slackPayload{Text: c.Body}
	if strings.HasPrefix(to, "#") {
		payload.Channel = to
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal Slack payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create Slack request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode == http.StatusOK {
		return "", nil
	}

	// Webhook errors are short plain-text reasons such as "no_service" or
	// "channel_is_archived".
	reason := strings.TrimSpace(string(raw))
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return "", types.NewAppError(types.ErrCodeUpstreamRejected,
			fmt.Sprintf("Slack webhook rejected message (%d): %s", resp.StatusCode, reason), nil)
	default:
		return "", types.NewAppError(types.ErrCodeUpstreamMessaging,
			fmt.Sprintf("Slack webhook error (%d): %s", resp.StatusCode, reason), nil)
	}
}

var _ core.ChannelProvider = (*SlackClient)(nil)

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

const sendGridAPIBase = "https://api.sendgrid.com"

// SendGridClientConfig holds the configuration for creating a SendGridClient.
type SendGridClientConfig struct {
	APIKey      string
	BaseURL     string // defaults to sendGridAPIBase
	FromAddress string
	FromName    string
	Logger      *slog.Logger
}

// SendGridClient delivers escalation email through the SendGrid v3 Mail
// Send API.
type SendGridClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	from    sendGridAddress
	logger  *slog.Logger
}

// NewSendGridClient creates a SendGridClient on top of base.
func NewSendGridClient(base *BaseClient, cfg SendGridClientConfig) *SendGridClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sendGridAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGridClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		from:    sendGridAddress{Email: cfg.FromAddress, Name: cfg.FromName},
		logger:  logger,
	}
}

func (s *SendGridClient) Channel() types.Channel { return types.ChannelEmail }
func (s *SendGridClient) Name() string           { return "sendgrid" }

// Send posts a plain text message with an optional HTML alternative and
// returns the X-Message-Id header.
//
// Error mapping:
//   - 403 -> recipient_blocked (suppression list)
//   - 400, 401, 413 -> upstream_rejected
//   - 429, 5xx -> handled by BaseClient
//   - other -> upstream_email_provider_unavailable
func (s *SendGridClient) Send(ctx context.Context, to string, c core.Content) (string, error) {
	payload := s.buildMailPayload(to, c)
	if sweepID := types.GetSweepID(ctx); sweepID != "" {
		payload.CustomArgs = map[string]string{"sweep_id": sweepID}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal SendGrid mail payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create SendGrid request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return resp.Header.Get("X-Message-Id"), nil
	}
	return "", s.handleErrorResponse(resp)
}

type sendGridMailPayload struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// buildMailPayload orders content text/plain first, as SendGrid requires.
func (s *SendGridClient) buildMailPayload(to string, c core.Content) sendGridMailPayload {
	p := sendGridMailPayload{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: to}}}},
		From:             s.from,
		Subject:          c.Subject,
		Content:          []sendGridContent{{Type: "text/plain", Value: c.Body}},
	}
	if c.HTMLBody != "" {
		p.Content = append(p.Content, sendGridContent{Type: "text/html", Value: c.HTMLBody})
	}
	return p
}

type sendGridErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

func (s *SendGridClient) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	msg := strings.TrimSpace(string(body))
	var sgErr sendGridErrorResponse
	if json.Unmarshal(body, &sgErr) == nil && len(sgErr.Errors) > 0 {
		msg = sgErr.Errors[0].Message
	}

	switch resp.StatusCode {
	case http.StatusForbidden:
		return types.NewAppError(types.ErrCodeRecipientBlocked,
			fmt.Sprintf("SendGrid blocked delivery: %s", msg), nil)
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusRequestEntityTooLarge:
		return types.NewAppError(types.ErrCodeUpstreamRejected,
			fmt.Sprintf("SendGrid rejected request (%d): %s", resp.StatusCode, msg), nil)
	default:
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("SendGrid error (%d): %s", resp.StatusCode, msg), nil)
	}
}

var _ core.ChannelProvider = (*SendGridClient)(nil)

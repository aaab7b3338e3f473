package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"queryguard/internal/notifications/core"
	"queryguard/internal/types"
)

const twilioAPIBase = "https://api.twilio.com"

// Twilio error codes that mean the number will never accept our message.
const (
	twilioInvalidTo       = 21211
	twilioUnsubscribed    = 21610
	twilioNotMobile       = 21614
	twilioUnreachableDest = 21612
)

// TwilioClientConfig holds the configuration for creating a TwilioClient.
type TwilioClientConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string // defaults to twilioAPIBase
	Logger     *slog.Logger
}

// TwilioClient sends SMS through the Twilio Programmable Messaging REST API.
type TwilioClient struct {
	base       *BaseClient
	accountSID string
	authToken  string
	from       string
	baseURL    string
	logger     *slog.Logger
}

// NewTwilioClient creates a TwilioClient on top of base.
func NewTwilioClient(base *BaseClient, cfg TwilioClientConfig) *TwilioClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = twilioAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TwilioClient{
		base:       base,
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.FromNumber,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logger,
	}
}

func (t *TwilioClient) Channel() types.Channel { return types.ChannelSMS }
func (t *TwilioClient) Name() string           { return "twilio" }

type twilioMessage struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

// Send creates a Message resource and returns its SID.
func (t *TwilioClient) Send(ctx context.Context, to string, c core.Content) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.from)
	form.Set("Body", c.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, url.PathEscape(t.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create Twilio request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(t.accountSID, t.authToken)

	resp, err := t.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK {
		var msg twilioMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return "", types.NewAppError(types.ErrCodeUpstreamMessaging, "unreadable Twilio response", err)
		}
		return msg.SID, nil
	}
	return "", mapTwilioError(resp.StatusCode, body)
}

func mapTwilioError(status int, body []byte) error {
	var te twilioError
	if json.Unmarshal(body, &te) != nil || te.Message == "" {
		te.Message = strings.TrimSpace(string(body))
	}

	switch {
	case te.Code == twilioUnsubscribed:
		return types.NewAppError(types.ErrCodeRecipientBlocked,
			fmt.Sprintf("Twilio recipient opted out: %s", te.Message), nil).
			WithDetails(map[string]any{"twilio_code": te.Code})
	case te.Code == twilioInvalidTo || te.Code == twilioNotMobile || te.Code == twilioUnreachableDest:
		return types.NewAppError(types.ErrCodeUpstreamRejected,
			fmt.Sprintf("Twilio rejected destination: %s", te.Message), nil).
			WithDetails(map[string]any{"twilio_code": te.Code})
	case status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusNotFound:
		return types.NewAppError(types.ErrCodeUpstreamRejected,
			fmt.Sprintf("Twilio rejected request (%d): %s", status, te.Message), nil)
	default:
		return types.NewAppError(types.ErrCodeUpstreamMessaging,
			fmt.Sprintf("Twilio error (%d): %s", status, te.Message), nil)
	}
}

var _ core.ChannelProvider = (*TwilioClient)(nil)

package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"queryguard/internal/notifications/core"
	"queryguard/internal/types"
)

// SESAPI defines the subset of the SES v2 client used by SESClient.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClientConfig holds the configuration for creating an SESClient.
type SESClientConfig struct {
	// ConfigSetName is the SES configuration set used for event tracking.
	// Optional.
	ConfigSetName string
	FromAddress   string
	FromName      string
	Logger        *slog.Logger
}

// SESClient delivers escalation email through Amazon SES v2. Credentials
// come from the IAM role; the SDK applies its own retryer so BaseClient is
// not involved.
type SESClient struct {
	api           SESAPI
	configSetName string
	from          string
	logger        *slog.Logger
}

// NewSESClient creates an SESClient from an AWS config.
func NewSESClient(awsCfg aws.Config, cfg SESClientConfig) *SESClient {
	return NewSESClientWithAPI(sesv2.NewFromConfig(awsCfg), cfg)
}

// NewSESClientWithAPI creates an SESClient around api.
func NewSESClientWithAPI(api SESAPI, cfg SESClientConfig) *SESClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	from := cfg.FromAddress
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress)
	}
	return &SESClient{
		api:           api,
		configSetName: cfg.ConfigSetName,
		from:          from,
		logger:        logger,
	}
}

func (s *SESClient) Channel() types.Channel { return types.ChannelEmail }
func (s *SESClient) Name() string           { return "ses" }

// Send transmits pre-rendered content with SendEmail Simple content.
func (s *SESClient) Send(ctx context.Context, to string, c core.Content) (string, error) {
	body := &sestypes.Body{
		Text: &sestypes.Content{Data: aws.String(c.Body), Charset: aws.String("UTF-8")},
	}
	if c.HTMLBody != "" {
		body.Html = &sestypes.Content{Data: aws.String(c.HTMLBody), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &sestypes.Destination{ToAddresses: []string{to}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(c.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}
	if s.configSetName != "" {
		input.ConfigurationSetName = aws.String(s.configSetName)
	}
	if sweepID := types.GetSweepID(ctx); sweepID != "" {
		input.EmailTags = []sestypes.MessageTag{{Name: aws.String("SweepID"), Value: aws.String(sweepID)}}
	}

	out, err := s.api.SendEmail(ctx, input)
	if err != nil {
		return "", mapSESError(err)
	}
	return aws.ToString(out.MessageId), nil
}

func mapSESError(err error) error {
	var msgRejected *sestypes.MessageRejected
	if errors.As(err, &msgRejected) {
		return types.NewAppError(types.ErrCodeRecipientBlocked, fmt.Sprintf("SES rejected message: %v", err), err)
	}

	var tooManyReqs *sestypes.TooManyRequestsException
	if errors.As(err, &tooManyReqs) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, fmt.Sprintf("SES rate limit exceeded: %v", err), err)
	}

	var sendingPaused *sestypes.SendingPausedException
	if errors.As(err, &sendingPaused) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, fmt.Sprintf("SES account sending paused: %v", err), err)
	}

	var badRequest *sestypes.BadRequestException
	if errors.As(err, &badRequest) {
		return types.NewAppError(types.ErrCodeUpstreamRejected, fmt.Sprintf("SES bad request: %v", err), err)
	}

	return types.NewAppError(types.ErrCodeUpstreamEmailProvider, fmt.Sprintf("SES error: %v", err), err)
}

var _ core.ChannelProvider = (*SESClient)(nil)

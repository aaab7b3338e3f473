package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"queryguard/internal/types"
)

// DeliveryFailure is one failed channel send, published for operators. The
// recipient is redacted before it leaves the process.
type DeliveryFailure struct {
	QueryID    string          `json:"query_id"`
	Tier       types.Tier      `json:"tier"`
	Channel    types.Channel   `json:"channel"`
	Provider   string          `json:"provider"`
	Recipient  string          `json:"recipient"`
	ErrorCode  types.ErrorCode `json:"error_code,omitempty"`
	Error      string          `json:"error"`
	SweepID    string          `json:"sweep_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// FailureRecorder persists delivery failures somewhere an operator can see
// them. Errors are logged by the caller and never affect the transition.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, f DeliveryFailure) error
}

// NopFailureRecorder drops failures.
type NopFailureRecorder struct{}

func (NopFailureRecorder) RecordFailure(context.Context, DeliveryFailure) error { return nil }

// SQSSender abstracts the SQS SendMessage operation for testability.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSFailureLog publishes each DeliveryFailure as a JSON message with
// channel and tier message attributes for filtering.
type SQSFailureLog struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewSQSFailureLog creates a failure log targeting queueURL.
func NewSQSFailureLog(client SQSSender, queueURL string, logger types.Logger) *SQSFailureLog {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &SQSFailureLog{client: client, queueURL: queueURL, logger: logger}
}

// RecordFailure sends f to the queue.
func (l *SQSFailureLog) RecordFailure(ctx context.Context, f DeliveryFailure) error {
	f.Recipient = RedactRecipient(f.Channel, f.Recipient)

	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failure log: marshal: %w", err)
	}

	_, err = l.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(l.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"channel": {DataType: aws.String("String"), StringValue: aws.String(string(f.Channel))},
			"tier":    {DataType: aws.String("String"), StringValue: aws.String(string(f.Tier))},
		},
	})
	if err != nil {
		return fmt.Errorf("failure log: send to %s: %w", l.queueURL, err)
	}

	l.logger.Info("delivery failure published",
		"query_id", f.QueryID,
		"channel", string(f.Channel),
		"tier", string(f.Tier),
	)
	return nil
}

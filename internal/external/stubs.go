package external

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"queryguard/internal/notifications/core"
	"queryguard/internal/types"
)

// StubProvider logs sends instead of delivering them and returns a fake
// message ID. It backs every channel when IS_TEST_MODE is set, or when
// a provider is configured as "stub".
type StubProvider struct {
	channel types.Channel
	logger  *slog.Logger

	mu   sync.Mutex
	sent []StubMessage
}

// StubMessage is one captured send.
type StubMessage struct {
	ID      string
	To      string
	Content core.Content
}

// NewStubProvider creates a StubProvider for ch.
func NewStubProvider(ch types.Channel, logger *slog.Logger) *StubProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubProvider{channel: ch, logger: logger}
}

func (s *StubProvider) Channel() types.Channel { return s.channel }
func (s *StubProvider) Name() string           { return "stub" }

func (s *StubProvider) Send(ctx context.Context, to string, c core.Content) (string, error) {
	id := "stub-" + uuid.NewString()
	s.logger.InfoContext(ctx, "stub: message sent",
		"channel", s.channel,
		"recipient", core.RedactRecipient(s.channel, to),
		"message_id", id,
		"subject", c.Subject,
	)

	s.mu.Lock()
	s.sent = append(s.sent, StubMessage{ID: id, To: to, Content: c})
	s.mu.Unlock()
	return id, nil
}

// Sent returns a copy of the captured messages.
func (s *StubProvider) Sent() []StubMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StubMessage(nil), s.sent...)
}

var _ core.ChannelProvider = (*StubProvider)(nil)

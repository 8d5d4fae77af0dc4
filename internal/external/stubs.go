package external

import (
	"context"
	"log/slog"
	"sync"

	"eventbell/internal/types"
)

// Stubs let the services boot locally without chat-platform credentials.
// They log every call and never fail.

// PushedMessage is a message recorded by StubMessenger.
type PushedMessage struct {
	To       string
	Body     string
	TenantID string
}

// StubMessenger implements types.Messenger by logging and recording pushes.
type StubMessenger struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []PushedMessage
}

// NewStubMessenger creates a StubMessenger.
func NewStubMessenger(logger *slog.Logger) *StubMessenger {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubMessenger{logger: logger}
}

func (s *StubMessenger) Push(ctx context.Context, to, body string, creds *types.TenantCredentials) error {
	tenantID := ""
	if creds != nil {
		tenantID = creds.TenantID
	}
	s.logger.InfoContext(ctx, "stub: Push called",
		"tenant_id", tenantID,
		"to", to,
		"body_len", len(body),
	)
	s.mu.Lock()
	s.sent = append(s.sent, PushedMessage{To: to, Body: body, TenantID: tenantID})
	s.mu.Unlock()
	return nil
}

// Sent returns a copy of the recorded pushes.
func (s *StubMessenger) Sent() []PushedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PushedMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

// StubVerifier accepts every webhook.
type StubVerifier struct {
	logger *slog.Logger
}

// NewStubVerifier creates a StubVerifier.
func NewStubVerifier(logger *slog.Logger) *StubVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubVerifier{logger: logger}
}

func (s *StubVerifier) Verify(payload []byte, signature string, _ types.SecretString) error {
	s.logger.Info("stub: Verify called, accepting",
		"payload_len", len(payload),
		"has_signature", signature != "",
	)
	return nil
}

package external

import (
	"fmt"
	"log/slog"

	"eventbell/internal/config"
	"eventbell/internal/types"
)

// ClientRegistry holds the outbound clients the services use.
type ClientRegistry struct {
	Messenger types.Messenger
	Verifier  SignatureVerifier
}

// NewClientRegistry builds the clients from configuration. In the local
// environment without a default channel token, stubs are used so the
// services boot without platform credentials.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger, opts ...BaseClientOption) (*ClientRegistry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("external: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Environment == "local" && cfg.Messaging.DefaultChannelToken.IsEmpty() {
		logger.Info("external: local mode without channel token, using stub clients")
		return &ClientRegistry{
			Messenger: NewStubMessenger(logger),
			Verifier:  NewStubVerifier(logger),
		}, nil
	}

	m := cfg.Messaging
	return &ClientRegistry{
		Messenger: NewChatClient(ChatClientConfig{
			BaseURL: m.BaseURL,
			Timeout: m.Timeout,
			Retry: RetryPolicy{
				MaxAttempts: m.MaxAttempts,
				BaseWait:    m.RetryBaseWait,
				MaxWait:     m.RetryMaxWait,
			},
			RatePerSecond: m.RatePerSecond,
			UserAgent:     fmt.Sprintf("%s/%s", cfg.Service, cfg.Build.Version),
			Logger:        logger,
		}, opts...),
		Verifier: ChannelVerifier{},
	}, nil
}

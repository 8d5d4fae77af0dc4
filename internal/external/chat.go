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
	"time"

	"eventbell/internal/types"
)

const pushPath = "/v2/bot/message/push"

// ChatClient pushes text messages through the chat platform's messaging API.
// It implements types.Messenger.
type ChatClient struct {
	base        *BaseClient
	baseURL     string
	maxAttempts int
	logger      *slog.Logger
}

// ChatClientConfig configures a ChatClient.
type ChatClientConfig struct {
	BaseURL       string
	Timeout       time.Duration
	Retry         RetryPolicy
	RatePerSecond float64
	UserAgent     string
	HTTPClient    *http.Client // optional; built from Timeout when nil
	Logger        *slog.Logger
}

// NewChatClient creates a ChatClient.
func NewChatClient(cfg ChatClientConfig, opts ...BaseClientOption) *ChatClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = DefaultRetryPolicy()
	}

	opts = append([]BaseClientOption{WithRateLimit(cfg.RatePerSecond)}, opts...)
	return &ChatClient{
		base:        NewBaseClient(httpClient, "chat-push", cfg.Retry, cfg.UserAgent, opts...),
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		maxAttempts: cfg.Retry.MaxAttempts,
		logger:      logger,
	}
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

// Send performs a single push attempt. Any 2xx is success.
func (c *ChatClient) Send(ctx context.Context, userID, body string, creds *types.TenantCredentials) error {
	if creds == nil || creds.ChannelToken.IsEmpty() {
		return types.NewAppError(types.ErrCodeUpstreamUnauthorized, "no channel token available", nil)
	}

	payload, err := json.Marshal(pushRequest{
		To:       userID,
		Messages: []textMessage{{Type: "text", Text: body}},
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode push request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pushPath, bytes.NewReader(payload))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build push request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.ChannelToken.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	code := types.ErrCodeUpstreamRejected
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		code = types.ErrCodeUpstreamUnauthorized
	}
	return types.NewAppErrorWithDetails(code,
		fmt.Sprintf("push rejected with status %d", resp.StatusCode), nil,
		map[string]any{"status": resp.StatusCode, "body": string(detail)})
}

// SendWithRetry calls Send up to maxAttempts times with exponential backoff
// between transient failures. The last error is returned when every attempt
// failed.
func (c *ChatClient) SendWithRetry(ctx context.Context, userID, body string, creds *types.TenantCredentials, maxAttempts int) error {
	attempts := 0
	err := c.base.Retry(ctx, maxAttempts, func(ctx context.Context) error {
		attempts++
		return c.Send(ctx, userID, body, creds)
	})
	if err != nil {
		tenantID := ""
		if creds != nil {
			tenantID = creds.TenantID
		}
		c.logger.WarnContext(ctx, "push failed",
			"tenant_id", tenantID,
			"attempts", attempts,
			"error", err,
		)
	}
	return err
}

// Push sends with the configured number of attempts.
func (c *ChatClient) Push(ctx context.Context, to, body string, creds *types.TenantCredentials) error {
	return c.SendWithRetry(ctx, to, body, creds, c.maxAttempts)
}

var _ types.Messenger = (*ChatClient)(nil)

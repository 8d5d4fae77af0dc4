package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"eventbell/internal/commands"
	"eventbell/internal/core"
	"eventbell/internal/external"
	"eventbell/internal/types"
)

const maxWebhookBodySize = 64 * 1024

// Inbound chat event types.
const (
	eventTypeMessage = "message"
	eventTypeFollow  = "follow"
	messageTypeText  = "text"
)

// CommandHandler applies inbound chat messages.
type CommandHandler interface {
	Handle(ctx context.Context, tenantID, chatUserID, text string) (commands.Outcome, error)
	Follow(ctx context.Context, tenantID, chatUserID, displayName string) error
}

// SecretResolver returns the channel credentials a tenant's webhooks are
// signed with. It must not fall back to shared defaults.
type SecretResolver interface {
	Resolve(ctx context.Context, tenantID string) (*types.TenantCredentials, error)
}

// WebhookHandler receives chat platform events for a tenant.
type WebhookHandler struct {
	verifier external.SignatureVerifier
	secrets  SecretResolver
	commands CommandHandler
	logger   *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(
	verifier external.SignatureVerifier,
	secrets SecretResolver,
	cmds CommandHandler,
	logger *slog.Logger,
) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		verifier: verifier,
		secrets:  secrets,
		commands: cmds,
		logger:   logger,
	}
}

// RegisterRoutes mounts the webhook endpoint.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/{tenantID}", h.Handle)
}

// webhookPayload is the envelope the chat platform posts.
type webhookPayload struct {
	Destination string         `json:"destination"`
	Events      []webhookEvent `json:"events"`
}

type webhookEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Source    struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	} `json:"source"`
	Message *struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message,omitempty"`
	Profile *struct {
		DisplayName string `json:"displayName"`
	} `json:"profile,omitempty"`
}

// Handle handles POST /v1/webhooks/{tenantID}. Once the signature checks out
// the response is always 200: per-event failures are logged, never returned,
// so the platform does not redeliver.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := chi.URLParam(r, "tenantID")
	log := types.LoggerFromContext(ctx, h.logger).With("tenant_id", tenantID)

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		log.WarnContext(ctx, "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"failed to read request body",
			err,
		))
		return
	}

	creds, err := h.secrets.Resolve(ctx, tenantID)
	switch {
	case types.HasCode(err, types.ErrCodeNotFoundTenant), types.HasCode(err, types.ErrCodeNotFoundCredentials):
		log.WarnContext(ctx, "webhook for tenant without channel credentials rejected", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationSignature,
			"webhook signature verification failed",
			err,
		))
		return
	case err != nil:
		// A 5xx makes the platform redeliver once the store is back.
		log.ErrorContext(ctx, "failed to resolve channel secret", "error", err)
		core.Error(w, r, err)
		return
	}

	if err := h.verifier.Verify(payload, r.Header.Get(external.SignatureHeader), creds.ChannelSecret); err != nil {
		log.WarnContext(ctx, "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationSignature,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		log.ErrorContext(ctx, "failed to parse webhook payload", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	for i := range body.Events {
		h.routeEvent(ctx, log, tenantID, &body.Events[i])
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) routeEvent(ctx context.Context, log *slog.Logger, tenantID string, ev *webhookEvent) {
	userID := ev.Source.UserID
	if userID == "" {
		log.DebugContext(ctx, "event without user source ignored", "event_type", ev.Type)
		return
	}

	switch ev.Type {
	case eventTypeMessage:
		if ev.Message == nil || ev.Message.Type != messageTypeText {
			return
		}
		outcome, err := h.commands.Handle(ctx, tenantID, userID, ev.Message.Text)
		if err != nil {
			log.ErrorContext(ctx, "inbound message handling failed",
				"chat_user_id", userID,
				"error", err,
			)
			return
		}
		log.InfoContext(ctx, "inbound message handled",
			"chat_user_id", userID,
			"outcome", outcome,
		)

	case eventTypeFollow:
		var displayName string
		if ev.Profile != nil {
			displayName = ev.Profile.DisplayName
		}
		if err := h.commands.Follow(ctx, tenantID, userID, displayName); err != nil {
			log.ErrorContext(ctx, "follow handling failed",
				"chat_user_id", userID,
				"error", err,
			)
		}

	default:
		log.DebugContext(ctx, "unhandled webhook event type", "event_type", ev.Type)
	}
}

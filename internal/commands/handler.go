// Package commands handles inbound chat text: the stop, resume and cancel
// commands and tenant auto-replies.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"eventbell/internal/schedule"
	"eventbell/internal/types"
)

// Outcome reports what an inbound message did.
type Outcome string

const (
	OutcomeStopped         Outcome = "stopped"
	OutcomeResumed         Outcome = "resumed"
	OutcomeCanceled        Outcome = "canceled"
	OutcomeNothingToCancel Outcome = "nothing_to_cancel"
	OutcomeAutoReplied     Outcome = "auto_replied"
	OutcomeIgnored         Outcome = "ignored"
)

type action int

const (
	actionNone action = iota
	actionStop
	actionResume
	actionCancel
)

// commandTable maps normalized text to an action.
var commandTable = map[string]action{
	"stop":        actionStop,
	"unsubscribe": actionStop,
	"配信停止":        actionStop,
	"resume":      actionResume,
	"start":       actionResume,
	"配信再開":        actionResume,
	"cancel":      actionCancel,
	"キャンセル":       actionCancel,
}

// Acknowledgement replies.
const (
	replyStopped         = "配信を停止しました。再開する場合は「配信再開」と送信してください。"
	replyResumed         = "配信を再開しました。"
	replyCanceled        = "「%s」のお申し込みをキャンセルしました。"
	replyNothingToCancel = "キャンセルできるお申し込みはありません。"
)

// Normalize returns the lookup form of inbound text.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// ApplicantStore is the applicant persistence used by the handler.
type ApplicantStore interface {
	Upsert(ctx context.Context, a *types.Applicant) error
	SetConsent(ctx context.Context, tenantID, chatUserID string, consent bool) error
}

// ApplicationStore is the application persistence used by the handler.
type ApplicationStore interface {
	LatestActiveForApplicant(ctx context.Context, tenantID, applicantID string) (*types.Application, error)
	Cancel(ctx context.Context, id string) (bool, error)
}

// DeliveryStore skips pending Delivery Records.
type DeliveryStore interface {
	SkipPendingForApplicant(ctx context.Context, tenantID, applicantID string) (int64, error)
	SkipPendingForApplication(ctx context.Context, applicationID string) (int64, error)
}

// AutoReplyStore looks up a tenant's keyword replies.
type AutoReplyStore interface {
	FindAutoReply(ctx context.Context, tenantID, keyword string) (*types.AutoReply, error)
}

// CredentialResolver resolves push credentials, falling back to defaults.
type CredentialResolver interface {
	ResolveOrDefault(ctx context.Context, tenantID string) *types.TenantCredentials
}

// Config holds the dependencies of a Handler.
type Config struct {
	Applicants   ApplicantStore
	Applications ApplicationStore
	Deliveries   DeliveryStore
	AutoReplies  AutoReplyStore
	Credentials  CredentialResolver
	Messenger    types.Messenger
	Templates    *schedule.TemplateSource
	Logger       *slog.Logger
}

// Handler applies inbound chat messages to consent and registration state.
type Handler struct {
	applicants   ApplicantStore
	applications ApplicationStore
	deliveries   DeliveryStore
	autoReplies  AutoReplyStore
	credentials  CredentialResolver
	messenger    types.Messenger
	templates    *schedule.TemplateSource
	logger       *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		applicants:   cfg.Applicants,
		applications: cfg.Applications,
		deliveries:   cfg.Deliveries,
		autoReplies:  cfg.AutoReplies,
		credentials:  cfg.Credentials,
		messenger:    cfg.Messenger,
		templates:    cfg.Templates,
		logger:       logger,
	}
}

// Handle processes one text message from chatUserID. The returned error
// covers only the state change itself; acknowledgement pushes are best
// effort.
func (h *Handler) Handle(ctx context.Context, tenantID, chatUserID, text string) (Outcome, error) {
	key := Normalize(text)
	log := h.logger.With("tenant_id", tenantID, "chat_user_id", chatUserID)

	switch commandTable[key] {
	case actionStop:
		return h.stop(ctx, log, tenantID, chatUserID)
	case actionResume:
		return h.resume(ctx, log, tenantID, chatUserID)
	case actionCancel:
		return h.cancel(ctx, log, tenantID, chatUserID)
	}

	if key == "" {
		return OutcomeIgnored, nil
	}
	reply, err := h.autoReplies.FindAutoReply(ctx, tenantID, key)
	if err != nil {
		log.WarnContext(ctx, "auto-reply lookup failed", "error", err)
		return OutcomeIgnored, nil
	}
	if reply == nil {
		return OutcomeIgnored, nil
	}
	h.reply(ctx, log, tenantID, chatUserID, reply.Reply)
	return OutcomeAutoReplied, nil
}

func (h *Handler) stop(ctx context.Context, log *slog.Logger, tenantID, chatUserID string) (Outcome, error) {
	if err := h.applicants.SetConsent(ctx, tenantID, chatUserID, false); err != nil {
		return "", fmt.Errorf("revoking consent: %w", err)
	}
	// Best effort: the dispatcher suppresses non-consented records anyway.
	n, err := h.deliveries.SkipPendingForApplicant(ctx, tenantID, chatUserID)
	if err != nil {
		log.WarnContext(ctx, "failed to skip pending records after stop", "error", err)
	} else {
		log.InfoContext(ctx, "consent revoked", "skipped", n)
	}
	h.reply(ctx, log, tenantID, chatUserID, replyStopped)
	return OutcomeStopped, nil
}

func (h *Handler) resume(ctx context.Context, log *slog.Logger, tenantID, chatUserID string) (Outcome, error) {
	if err := h.applicants.SetConsent(ctx, tenantID, chatUserID, true); err != nil {
		return "", fmt.Errorf("granting consent: %w", err)
	}
	log.InfoContext(ctx, "consent granted")
	h.reply(ctx, log, tenantID, chatUserID, replyResumed)
	return OutcomeResumed, nil
}

func (h *Handler) cancel(ctx context.Context, log *slog.Logger, tenantID, chatUserID string) (Outcome, error) {
	app, err := h.applications.LatestActiveForApplicant(ctx, tenantID, chatUserID)
	if err != nil {
		return "", fmt.Errorf("finding application to cancel: %w", err)
	}
	if app == nil {
		h.reply(ctx, log, tenantID, chatUserID, replyNothingToCancel)
		return OutcomeNothingToCancel, nil
	}

	canceled, err := h.applications.Cancel(ctx, app.ID)
	if err != nil {
		return "", fmt.Errorf("canceling application %s: %w", app.ID, err)
	}
	if !canceled {
		h.reply(ctx, log, tenantID, chatUserID, replyNothingToCancel)
		return OutcomeNothingToCancel, nil
	}

	n, err := h.deliveries.SkipPendingForApplication(ctx, app.ID)
	if err != nil {
		log.ErrorContext(ctx, "failed to skip pending records after cancel",
			"application_id", app.ID,
			"error", err,
		)
	} else {
		log.InfoContext(ctx, "application canceled", "application_id", app.ID, "skipped", n)
	}
	h.reply(ctx, log, tenantID, chatUserID, fmt.Sprintf(replyCanceled, app.Plan))
	return OutcomeCanceled, nil
}

// Follow records a new chat follower as a consenting applicant and sends the
// tenant's welcome message.
func (h *Handler) Follow(ctx context.Context, tenantID, chatUserID, displayName string) error {
	log := h.logger.With("tenant_id", tenantID, "chat_user_id", chatUserID)
	a := &types.Applicant{
		TenantID:    tenantID,
		ChatUserID:  chatUserID,
		DisplayName: displayName,
		Consent:     true,
	}
	if err := h.applicants.Upsert(ctx, a); err != nil {
		return fmt.Errorf("recording follower: %w", err)
	}
	if h.templates == nil {
		return nil
	}
	tpl, ok := h.templates.First(ctx, tenantID, types.TemplateWelcome)
	if !ok {
		return nil
	}
	h.reply(ctx, log, tenantID, chatUserID, schedule.Render(tpl.Body, schedule.RenderVars{Name: a.DisplayName}))
	return nil
}

func (h *Handler) reply(ctx context.Context, log *slog.Logger, tenantID, chatUserID, body string) {
	creds := h.credentials.ResolveOrDefault(ctx, tenantID)
	if err := h.messenger.Push(ctx, chatUserID, body, creds); err != nil {
		log.WarnContext(ctx, "failed to push reply", "error", err)
	}
}

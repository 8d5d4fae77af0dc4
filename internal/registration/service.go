// Package registration accepts seminar registrations: it records the
// application, schedules its reminders and follow-up steps, and confirms it
// to the applicant.
package registration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"eventbell/internal/schedule"
	"eventbell/internal/types"
)

// RegisterInput is a registration request. SlotTime is an absolute instant.
type RegisterInput struct {
	TenantID    string    `json:"-" validate:"required"`
	ChatUserID  string    `json:"chat_user_id" validate:"required,max=64"`
	DisplayName string    `json:"display_name" validate:"max=100"`
	SlotTime    time.Time `json:"slot_time" validate:"required"`
	Plan        string    `json:"plan" validate:"required,max=200"`
	Note        string    `json:"note" validate:"max=1000"`
	Consent     bool      `json:"consent"`
}

// RegisterResult reports the created application and what was scheduled.
type RegisterResult struct {
	ApplicationID        string    `json:"application_id"`
	SlotTime             time.Time `json:"slot_time"`
	RemindersScheduled   int       `json:"reminders_scheduled"`
	StepsScheduled       int       `json:"steps_scheduled"`
	ReminderQuotaReached bool      `json:"reminder_quota_reached,omitempty"`
	StepQuotaReached     bool      `json:"step_quota_reached,omitempty"`
	ScheduleFailed       bool      `json:"schedule_failed,omitempty"`
}

// StructValidator validates tagged request structs.
type StructValidator interface {
	ValidateStruct(s any) error
}

// TenantStore loads tenants.
type TenantStore interface {
	GetByID(ctx context.Context, id string) (*types.Tenant, error)
}

// ApplicantStore records applicants.
type ApplicantStore interface {
	Upsert(ctx context.Context, a *types.Applicant) error
}

// ApplicationStore persists applications.
type ApplicationStore interface {
	ExistsActive(ctx context.Context, tenantID, applicantID string, slot time.Time) (bool, error)
	CountActiveForSlot(ctx context.Context, tenantID string, slot time.Time) (int, error)
	// CreateWithinCapacity inserts the application, rejecting it with
	// conflict_slot_full when the slot already holds capacity registrations.
	CreateWithinCapacity(ctx context.Context, app *types.Application, capacity int) error
}

// QuotaGate consumes one unit of a tenant's quota and returns units whose
// resource was never created.
type QuotaGate interface {
	TryConsume(ctx context.Context, tenantID string, category types.QuotaCategory) (bool, error)
	Refund(ctx context.Context, tenantID string, category types.QuotaCategory, n int) error
}

// ScheduleBuilder creates the Delivery Records of a registration.
type ScheduleBuilder interface {
	Build(ctx context.Context, in schedule.BuildInput) (schedule.BuildResult, error)
}

// CredentialResolver resolves push credentials, falling back to defaults.
type CredentialResolver interface {
	ResolveOrDefault(ctx context.Context, tenantID string) *types.TenantCredentials
}

// Config holds the dependencies of a Service.
type Config struct {
	Validator    StructValidator
	Tenants      TenantStore
	Applicants   ApplicantStore
	Applications ApplicationStore
	Quota        QuotaGate
	Builder      ScheduleBuilder
	Templates    *schedule.TemplateSource
	Resolver     *schedule.Resolver
	Credentials  CredentialResolver
	Messenger    types.Messenger
	Clock        types.Clock
	Logger       *slog.Logger
}

// Service registers applicants for slots.
type Service struct {
	cfg    Config
	logger *slog.Logger
	newID  func() string
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = schedule.NewResolver(nil)
	}
	return &Service{
		cfg:    cfg,
		logger: cfg.Logger,
		newID:  func() string { return "app_" + uuid.New().String() },
	}
}

// Register records a registration. Once the application is persisted the
// call succeeds: scheduling and the confirmation push are logged on failure
// and never undo it.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	if s.cfg.Validator != nil {
		if err := s.cfg.Validator.ValidateStruct(in); err != nil {
			return nil, err
		}
	}
	if !in.SlotTime.After(s.cfg.Clock.Now()) {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationSlotInPast,
			"slot_time must be in the future",
			nil,
			map[string]any{"slot_time": in.SlotTime},
		)
	}
	slot := in.SlotTime.UTC()
	log := s.logger.With("tenant_id", in.TenantID, "chat_user_id", in.ChatUserID)

	tenant, err := s.cfg.Tenants.GetByID(ctx, in.TenantID)
	if err != nil {
		return nil, err
	}

	applicant := &types.Applicant{
		TenantID:    in.TenantID,
		ChatUserID:  in.ChatUserID,
		DisplayName: in.DisplayName,
		Consent:     in.Consent,
	}
	if err := s.cfg.Applicants.Upsert(ctx, applicant); err != nil {
		return nil, fmt.Errorf("recording applicant: %w", err)
	}

	exists, err := s.cfg.Applications.ExistsActive(ctx, in.TenantID, in.ChatUserID, slot)
	if err != nil {
		return nil, fmt.Errorf("checking duplicate application: %w", err)
	}
	if exists {
		return nil, types.NewAppError(types.ErrCodeConflictDuplicate, "applicant already registered for this slot", nil)
	}

	if tenant.SlotCapacity > 0 {
		n, err := s.cfg.Applications.CountActiveForSlot(ctx, in.TenantID, slot)
		if err != nil {
			return nil, fmt.Errorf("checking slot capacity: %w", err)
		}
		if n >= tenant.SlotCapacity {
			return nil, types.NewAppErrorWithDetails(
				types.ErrCodeConflictSlotFull,
				"slot is full",
				nil,
				map[string]any{"capacity": tenant.SlotCapacity},
			)
		}
	}

	allowed, err := s.cfg.Quota.TryConsume(ctx, in.TenantID, types.QuotaApplications)
	taken := allowed && err == nil
	if err != nil {
		log.WarnContext(ctx, "application quota check failed, allowing", "error", err)
		allowed = true
	}
	if !allowed {
		return nil, types.NewAppError(types.ErrCodeLimitApplications, "monthly application limit reached", nil)
	}

	app := &types.Application{
		ID:          s.newID(),
		TenantID:    in.TenantID,
		ApplicantID: in.ChatUserID,
		SlotTime:    slot,
		Plan:        in.Plan,
		Note:        in.Note,
		Status:      types.ApplicationApplied,
	}
	if err := s.cfg.Applications.CreateWithinCapacity(ctx, app, tenant.SlotCapacity); err != nil {
		if taken {
			if rerr := s.cfg.Quota.Refund(ctx, in.TenantID, types.QuotaApplications, 1); rerr != nil {
				log.ErrorContext(ctx, "failed to refund application quota", "error", rerr)
			}
		}
		return nil, err
	}
	log = log.With("application_id", app.ID)
	log.InfoContext(ctx, "application created", "slot_time", slot)

	result := &RegisterResult{ApplicationID: app.ID, SlotTime: slot}

	built, err := s.cfg.Builder.Build(ctx, schedule.BuildInput{
		Application: app,
		Applicant:   applicant,
		Tenant:      tenant,
	})
	if err != nil {
		log.ErrorContext(ctx, "failed to schedule deliveries", "error", err)
		result.ScheduleFailed = true
	} else {
		result.RemindersScheduled = built.Reminders
		result.StepsScheduled = built.Steps
		result.ReminderQuotaReached = built.ReminderQuotaReached
		result.StepQuotaReached = built.StepQuotaReached
	}

	s.confirm(ctx, log, app, applicant)
	return result, nil
}

// confirm pushes the completion message. It is not a Delivery Record and is
// not retried beyond the messaging client's own attempts.
func (s *Service) confirm(ctx context.Context, log *slog.Logger, app *types.Application, applicant *types.Applicant) {
	if s.cfg.Templates == nil || s.cfg.Messenger == nil {
		return
	}
	tpl, ok := s.cfg.Templates.First(ctx, app.TenantID, types.TemplateCompletion)
	if !ok {
		return
	}
	body := schedule.Render(tpl.Body, schedule.NewRenderVars(s.cfg.Resolver, app.Plan, applicant.DisplayName, app.SlotTime))
	creds := s.cfg.Credentials.ResolveOrDefault(ctx, app.TenantID)
	if err := s.cfg.Messenger.Push(ctx, app.ApplicantID, body, creds); err != nil {
		log.WarnContext(ctx, "failed to push completion message", "error", err)
	}
}

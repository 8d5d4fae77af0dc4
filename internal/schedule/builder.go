package schedule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"eventbell/internal/types"
)

// QuotaGate grants one unit of a usage category at a time and takes back
// units whose records could not be stored.
type QuotaGate interface {
	TryConsume(ctx context.Context, tenantID string, category types.QuotaCategory) (bool, error)
	Refund(ctx context.Context, tenantID string, category types.QuotaCategory, n int) error
}

// DeliveryStore persists new Delivery Records.
type DeliveryStore interface {
	CreateBatch(ctx context.Context, records []*types.DeliveryRecord) error
}

// BuildInput is the registration a schedule is built for.
type BuildInput struct {
	Application *types.Application
	Applicant   *types.Applicant
	Tenant      *types.Tenant
}

// BuildResult summarizes the records created for a registration.
type BuildResult struct {
	Records              []*types.DeliveryRecord
	Reminders            int
	Steps                int
	ReminderQuotaReached bool
	StepQuotaReached     bool
	RemindersSkipped     bool // applicant had not consented
}

// Builder renders templates into Delivery Records for a new registration.
type Builder struct {
	templates *TemplateSource
	resolver  *Resolver
	quota     QuotaGate
	store     DeliveryStore
	logger    *slog.Logger
	newID     func() string
}

// BuilderConfig holds the dependencies of a Builder.
type BuilderConfig struct {
	Templates *TemplateSource
	Resolver  *Resolver
	Quota     QuotaGate
	Store     DeliveryStore
	Logger    *slog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		templates: cfg.Templates,
		resolver:  cfg.Resolver,
		quota:     cfg.Quota,
		store:     cfg.Store,
		logger:    logger,
		newID:     func() string { return "dr_" + uuid.New().String() },
	}
}

// Build creates the reminder and step-message records of a registration.
//
// Reminders are created only when the applicant consented; step messages
// only when the tenant has step delivery enabled. Within each sequence,
// records are accepted one by one against the quota and the sequence stops at
// the first denial. Records already accepted are kept. If the records cannot
// be stored, the units granted for them are refunded.
func (b *Builder) Build(ctx context.Context, in BuildInput) (BuildResult, error) {
	var res BuildResult
	if in.Application == nil || in.Tenant == nil {
		return res, types.NewAppError(types.ErrCodeInternalUnexpected, "build input requires application and tenant", nil)
	}

	app := in.Application
	name := ""
	if in.Applicant != nil {
		name = in.Applicant.DisplayName
	}
	vars := NewRenderVars(b.resolver, app.Plan, name, app.SlotTime)
	granted := make(map[types.QuotaCategory]int, 2)

	if in.Applicant != nil && in.Applicant.Consent {
		recs, stopped := b.plan(ctx, app, types.CategoryReminder, vars, granted)
		res.Records = append(res.Records, recs...)
		res.Reminders = len(recs)
		res.ReminderQuotaReached = stopped
	} else {
		res.RemindersSkipped = true
	}

	if in.Tenant.StepDeliveryEnabled {
		recs, stopped := b.plan(ctx, app, types.CategoryStep, vars, granted)
		res.Records = append(res.Records, recs...)
		res.Steps = len(recs)
		res.StepQuotaReached = stopped
	}

	if len(res.Records) > 0 {
		if err := b.store.CreateBatch(ctx, res.Records); err != nil {
			b.refund(ctx, app.TenantID, granted)
			return BuildResult{}, fmt.Errorf("persisting delivery records: %w", err)
		}
	}

	b.logger.InfoContext(ctx, "schedule built",
		"tenant_id", app.TenantID,
		"application_id", app.ID,
		"reminders", res.Reminders,
		"steps", res.Steps,
		"reminder_quota_reached", res.ReminderQuotaReached,
		"step_quota_reached", res.StepQuotaReached,
	)
	return res, nil
}

// plan builds the records of one category and reports whether the quota
// stopped the sequence. Units actually taken from the store are added to
// granted.
func (b *Builder) plan(ctx context.Context, app *types.Application, category types.DeliveryCategory, vars RenderVars, granted map[types.QuotaCategory]int) ([]*types.DeliveryRecord, bool) {
	tplCategory := types.TemplateReminder
	if category == types.CategoryStep {
		tplCategory = types.TemplateStep
	}
	tpls, custom := b.templates.Templates(ctx, app.TenantID, tplCategory)

	var out []*types.DeliveryRecord
	for i, tpl := range tpls {
		fireAt, err := b.resolver.FireTime(app.SlotTime, tpl.OffsetDays, tpl.TimeOfDay)
		if err != nil {
			b.logger.WarnContext(ctx, "skipping template with unresolvable fire time",
				"tenant_id", app.TenantID,
				"template_id", tpl.ID,
				"error", err,
			)
			continue
		}

		allowed, taken := b.consume(ctx, app.TenantID, category.QuotaCategory())
		if !allowed {
			return out, true
		}
		if taken {
			granted[category.QuotaCategory()]++
		}

		out = append(out, &types.DeliveryRecord{
			ID:            b.newID(),
			ApplicationID: app.ID,
			ApplicantID:   app.ApplicantID,
			TenantID:      app.TenantID,
			Category:      category,
			Kind:          kindFor(category, tpl, custom, i),
			FireAt:        fireAt,
			Body:          Render(tpl.Body, vars),
			State:         types.DeliveryPending,
		})
	}
	return out, false
}

// consume asks the gate for one unit. Store errors count as allowed, but no
// unit was taken.
func (b *Builder) consume(ctx context.Context, tenantID string, category types.QuotaCategory) (allowed, taken bool) {
	ok, err := b.quota.TryConsume(ctx, tenantID, category)
	if err != nil {
		b.logger.WarnContext(ctx, "quota check failed, allowing",
			"tenant_id", tenantID,
			"category", string(category),
			"error", err,
		)
		return true, false
	}
	return ok, ok
}

func (b *Builder) refund(ctx context.Context, tenantID string, granted map[types.QuotaCategory]int) {
	for category, n := range granted {
		if err := b.quota.Refund(ctx, tenantID, category, n); err != nil {
			b.logger.ErrorContext(ctx, "failed to refund quota",
				"tenant_id", tenantID,
				"category", string(category),
				"units", n,
				"error", err,
			)
		}
	}
}

func kindFor(category types.DeliveryCategory, tpl types.MessageTemplate, custom bool, index int) string {
	if category == types.CategoryStep {
		return types.StepKind(index + 1)
	}
	if custom {
		return types.KindReminderCustom
	}
	return tpl.ID
}

package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"eventbell/internal/types"
)

// QuotaRepository maintains per-tenant usage counters in tenant_usage. The
// row is created lazily on the first increment with a calendar-month period.
type QuotaRepository struct {
	db DBTX
}

// NewQuotaRepository creates a new QuotaRepository.
func NewQuotaRepository(db DBTX) *QuotaRepository {
	return &QuotaRepository{db: db}
}

// Column names are whitelisted; they are interpolated into SQL.
var quotaColumns = map[types.QuotaCategory]string{
	types.QuotaEvents:       "events",
	types.QuotaReminders:    "reminders",
	types.QuotaStepMessages: "step_messages",
	types.QuotaApplications: "applications",
}

func quotaColumn(c types.QuotaCategory) (string, error) {
	col, ok := quotaColumns[c]
	if !ok {
		return "", types.NewAppError(types.ErrCodeValidationInvalidField, fmt.Sprintf("unknown quota category %q", c), nil)
	}
	return col, nil
}

const newPeriodValues = `date_trunc('month', NOW()), date_trunc('month', NOW()) + INTERVAL '1 month'`

// GetUsage returns the tenant's plan, optional limit override and counters.
// A tenant with no usage row yet reports zero usage.
func (r *QuotaRepository) GetUsage(ctx context.Context, tenantID string) (*types.TenantUsage, error) {
	var (
		u           types.TenantUsage
		plan        string
		override    []byte
		periodStart *time.Time
		periodEnd   *time.Time
	)
	err := r.db.QueryRow(ctx,
		`SELECT t.plan, t.plan_limits,
		        COALESCE(u.events, 0), COALESCE(u.reminders, 0),
		        COALESCE(u.step_messages, 0), COALESCE(u.applications, 0),
		        u.period_start, u.period_end
		 FROM tenants t
		 LEFT JOIN tenant_usage u ON u.tenant_id = t.id
		 WHERE t.id = $1`,
		tenantID,
	).Scan(&plan, &override, &u.Events, &u.Reminders, &u.StepMessages, &u.Applications, &periodStart, &periodEnd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTenant, "tenant not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read tenant usage", err)
	}

	u.TenantID = tenantID
	u.Plan = types.PlanTier(plan)
	if periodStart != nil {
		u.PeriodStart = *periodStart
	}
	if periodEnd != nil {
		u.PeriodEnd = *periodEnd
	}
	if len(override) > 0 {
		var limits types.PlanLimits
		if err := json.Unmarshal(override, &limits); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode plan limit override", err)
		}
		u.LimitOverride = &limits
	}
	return &u, nil
}

// Increment bumps a counter unconditionally.
func (r *QuotaRepository) Increment(ctx context.Context, tenantID string, category types.QuotaCategory) error {
	col, err := quotaColumn(category)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO tenant_usage (tenant_id, `+col+`, period_start, period_end)
		 VALUES ($1, 1, `+newPeriodValues+`)
		 ON CONFLICT (tenant_id) DO UPDATE
		   SET `+col+` = tenant_usage.`+col+` + 1`,
		tenantID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to increment usage", err)
	}
	return nil
}

// TryConsume increments the counter only while it is below limit (limit 0
// means unlimited) and reports whether the unit was granted. Check and
// increment are one statement, so concurrent callers cannot overshoot.
func (r *QuotaRepository) TryConsume(ctx context.Context, tenantID string, category types.QuotaCategory, limit int) (bool, error) {
	col, err := quotaColumn(category)
	if err != nil {
		return false, err
	}

	var used int
	err = r.db.QueryRow(ctx,
		`INSERT INTO tenant_usage (tenant_id, `+col+`, period_start, period_end)
		 VALUES ($1, 1, `+newPeriodValues+`)
		 ON CONFLICT (tenant_id) DO UPDATE
		   SET `+col+` = tenant_usage.`+col+` + 1
		   WHERE $2 = 0 OR tenant_usage.`+col+` < $2
		 RETURNING `+col,
		tenantID, limit,
	).Scan(&used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to consume quota", err)
	}
	return true, nil
}

// Refund gives back n units of a counter, never going below zero. It undoes
// TryConsume grants whose records were never stored.
func (r *QuotaRepository) Refund(ctx context.Context, tenantID string, category types.QuotaCategory, n int) error {
	col, err := quotaColumn(category)
	if err != nil {
		return err
	}
	if n <= 0 {
		return nil
	}
	_, err = r.db.Exec(ctx,
		`UPDATE tenant_usage
		 SET `+col+` = GREATEST(`+col+` - $2, 0)
		 WHERE tenant_id = $1`,
		tenantID, n,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to refund usage", err)
	}
	return nil
}

// UsagePeriod identifies a tenant whose billing period has ended.
type UsagePeriod struct {
	TenantID    string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// ListEndedPeriods returns usage rows whose period ended at or before now.
func (r *QuotaRepository) ListEndedPeriods(ctx context.Context, now time.Time, limit int) ([]UsagePeriod, error) {
	rows, err := r.db.Query(ctx,
		`SELECT tenant_id, period_start, period_end
		 FROM tenant_usage
		 WHERE period_end <= $1
		 ORDER BY period_end ASC
		 LIMIT $2`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list ended usage periods", err)
	}
	defer rows.Close()

	var out []UsagePeriod
	for rows.Next() {
		var p UsagePeriod
		if err := rows.Scan(&p.TenantID, &p.PeriodStart, &p.PeriodEnd); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan usage period", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate usage periods", err)
	}
	return out, nil
}

// ResetPeriod zeroes the per-period counters and moves the period forward.
// The events gauge is left alone. The update only applies if the row still
// has prevEnd, so a second concurrent rollover is a no-op.
func (r *QuotaRepository) ResetPeriod(ctx context.Context, tenantID string, prevEnd, newStart, newEnd time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE tenant_usage
		 SET reminders = 0, step_messages = 0, applications = 0,
		     period_start = $3, period_end = $4
		 WHERE tenant_id = $1 AND period_end = $2`,
		tenantID, prevEnd.UTC(), newStart.UTC(), newEnd.UTC(),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to reset usage period", err)
	}
	return tag.RowsAffected() == 1, nil
}

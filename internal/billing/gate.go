package billing

import (
	"context"
	"fmt"
	"time"

	"eventbell/internal/types"
)

// QuotaStore is the persistence the gate works over.
type QuotaStore interface {
	// GetUsage returns the tenant's plan, optional limit override and counters.
	GetUsage(ctx context.Context, tenantID string) (*types.TenantUsage, error)
	// Increment bumps a counter unconditionally.
	Increment(ctx context.Context, tenantID string, category types.QuotaCategory) error
	// TryConsume increments a counter only while it is below limit (0 is
	// unlimited) as a single statement.
	TryConsume(ctx context.Context, tenantID string, category types.QuotaCategory, limit int) (bool, error)
	// Refund decrements a counter by n, flooring at zero.
	Refund(ctx context.Context, tenantID string, category types.QuotaCategory, n int) error
}

// LimitDetail is the usage of one category against its limit.
type LimitDetail struct {
	Limit int `json:"limit"` // 0 = unlimited
	Used  int `json:"used"`
}

// UsageSnapshot is a tenant's usage in the current period.
type UsageSnapshot struct {
	TenantID    string                              `json:"tenant_id"`
	Plan        types.PlanTier                      `json:"plan"`
	PeriodStart time.Time                           `json:"period_start"`
	PeriodEnd   time.Time                           `json:"period_end"`
	Usage       map[types.QuotaCategory]LimitDetail `json:"usage"`
}

// Gate guards creation of quota-limited resources per tenant.
type Gate struct {
	store QuotaStore
	plans PlanRegistry
}

// NewGate creates a Gate. A nil registry uses the static plan limits.
func NewGate(store QuotaStore, plans PlanRegistry) *Gate {
	if plans == nil {
		plans = NewStaticPlanRegistry()
	}
	return &Gate{store: store, plans: plans}
}

// EffectiveLimits returns the tenant's override when one is set, otherwise
// the plan limits.
func (g *Gate) EffectiveLimits(u *types.TenantUsage) types.PlanLimits {
	if u.LimitOverride != nil {
		return *u.LimitOverride
	}
	return g.plans.GetLimits(u.Plan)
}

// CanCreate reports whether the tenant is below its limit for category.
//
// CanCreate followed by Increment is not atomic: concurrent callers can
// overshoot the limit. Callers that need a strict bound use TryConsume.
func (g *Gate) CanCreate(ctx context.Context, tenantID string, category types.QuotaCategory) (bool, error) {
	if err := validateCategory(category); err != nil {
		return false, err
	}
	u, err := g.store.GetUsage(ctx, tenantID)
	if err != nil {
		return false, err
	}
	limit := g.EffectiveLimits(u).Limit(category)
	return limit == 0 || u.Used(category) < limit, nil
}

// Increment records one unit of usage without checking the limit.
func (g *Gate) Increment(ctx context.Context, tenantID string, category types.QuotaCategory) error {
	if err := validateCategory(category); err != nil {
		return err
	}
	return g.store.Increment(ctx, tenantID, category)
}

// TryConsume takes one unit of category if the tenant is below its limit.
// The check and the increment happen in one store operation.
func (g *Gate) TryConsume(ctx context.Context, tenantID string, category types.QuotaCategory) (bool, error) {
	if err := validateCategory(category); err != nil {
		return false, err
	}
	u, err := g.store.GetUsage(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return g.store.TryConsume(ctx, tenantID, category, g.EffectiveLimits(u).Limit(category))
}

// Refund returns n units granted by TryConsume whose resources were never
// created.
func (g *Gate) Refund(ctx context.Context, tenantID string, category types.QuotaCategory, n int) error {
	if err := validateCategory(category); err != nil {
		return err
	}
	if n <= 0 {
		return nil
	}
	return g.store.Refund(ctx, tenantID, category, n)
}

// Usage returns a snapshot of every category against its limit.
func (g *Gate) Usage(ctx context.Context, tenantID string) (*UsageSnapshot, error) {
	u, err := g.store.GetUsage(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	limits := g.EffectiveLimits(u)

	snap := &UsageSnapshot{
		TenantID:    tenantID,
		Plan:        u.Plan,
		PeriodStart: u.PeriodStart,
		PeriodEnd:   u.PeriodEnd,
		Usage:       make(map[types.QuotaCategory]LimitDetail, 4),
	}
	for _, c := range []types.QuotaCategory{types.QuotaEvents, types.QuotaReminders, types.QuotaStepMessages, types.QuotaApplications} {
		snap.Usage[c] = LimitDetail{Limit: limits.Limit(c), Used: u.Used(c)}
	}
	return snap, nil
}

func validateCategory(c types.QuotaCategory) error {
	if !c.Valid() {
		return types.NewAppError(types.ErrCodeValidationInvalidField, fmt.Sprintf("unknown quota category %q", c), nil)
	}
	return nil
}

// Package billing provides plan limits and the per-tenant quota gate.
package billing

import "eventbell/internal/types"

// PlanRegistry defines the default limits of each tier.
type PlanRegistry interface {
	// GetLimits returns the limits for the given plan tier. Unknown tiers get
	// the Free limits.
	GetLimits(tier types.PlanTier) types.PlanLimits
}

// staticPlanRegistry is a PlanRegistry backed by an in-memory map.
type staticPlanRegistry struct {
	limits map[types.PlanTier]types.PlanLimits
}

// planDefaults are the published plan limits:
//
//	| Plan       | Events | Reminders | Step messages | Applications/month |
//	|------------|--------|-----------|---------------|--------------------|
//	| Free       | 1      | 100       | 50            | 30                 |
//	| Standard   | 5      | 1,000     | 1,000         | 300                |
//	| Pro        | 20     | 10,000    | 10,000        | 3,000              |
//	| Enterprise | 0      | 0         | 0             | 0                  |
//
// 0 means unlimited.
var planDefaults = map[types.PlanTier]types.PlanLimits{
	types.PlanFree: {
		MaxEvents:              1,
		MaxReminders:           100,
		MaxStepMessages:        50,
		MaxMonthlyApplications: 30,
	},
	types.PlanStandard: {
		MaxEvents:              5,
		MaxReminders:           1000,
		MaxStepMessages:        1000,
		MaxMonthlyApplications: 300,
	},
	types.PlanPro: {
		MaxEvents:              20,
		MaxReminders:           10000,
		MaxStepMessages:        10000,
		MaxMonthlyApplications: 3000,
	},
	types.PlanEnterprise: {},
}

var freeLimits = planDefaults[types.PlanFree]

// NewStaticPlanRegistry returns a PlanRegistry backed by the published plan
// limits.
func NewStaticPlanRegistry() PlanRegistry {
	m := make(map[types.PlanTier]types.PlanLimits, len(planDefaults))
	for k, v := range planDefaults {
		m[k] = v
	}
	return &staticPlanRegistry{limits: m}
}

// GetLimits returns the limits of tier, or the Free limits for unknown tiers.
func (r *staticPlanRegistry) GetLimits(tier types.PlanTier) types.PlanLimits {
	if limits, ok := r.limits[tier]; ok {
		return limits
	}
	return freeLimits
}

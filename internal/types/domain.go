package types

import "time"

// Application is a registration of an applicant for a slot. It is created once
// per registration and only ever changes status (applied -> canceled).
type Application struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	ApplicantID string            `json:"applicant_id"` // chat-platform user id
	SlotTime    time.Time         `json:"slot_time"`
	Plan        string            `json:"plan"`
	Note        string            `json:"note,omitempty"`
	Status      ApplicationStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Applicant is a chat user known to a tenant. Consent controls whether
// automated reminders may be delivered.
type Applicant struct {
	TenantID    string    `json:"tenant_id"`
	ChatUserID  string    `json:"chat_user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Consent     bool      `json:"consent"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DeliveryRecord is a scheduled outbound message. FireAt and Body are frozen
// at creation; only State, SentAt and the failure bookkeeping change afterward.
type DeliveryRecord struct {
	ID            string           `json:"id"`
	ApplicationID string           `json:"application_id"`
	ApplicantID   string           `json:"applicant_id"`
	TenantID      string           `json:"tenant_id"`
	Category      DeliveryCategory `json:"category"`
	Kind          string           `json:"kind"`
	FireAt        time.Time        `json:"fire_at"`
	Body          string           `json:"body"`
	State         DeliveryState    `json:"state"`
	SentAt        *time.Time       `json:"sent_at,omitempty"`
	Suppressed    bool             `json:"suppressed"`
	FailureCount  int              `json:"failure_count"`
	LastError     string           `json:"last_error,omitempty"`
	ClaimedAt     *time.Time       `json:"claimed_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// MessageTemplate is a tenant-owned message definition. OffsetDays is relative
// to the slot date: negative is before the slot, positive after, zero day-of.
// An empty TimeOfDay means "the slot's own local time".
type MessageTemplate struct {
	ID         string           `json:"id"`
	TenantID   string           `json:"tenant_id"`
	Category   TemplateCategory `json:"category"`
	OffsetDays int              `json:"offset_days"`
	TimeOfDay  string           `json:"time_of_day"`
	Body       string           `json:"body"`
	Active     bool             `json:"active"`
	SortOrder  int              `json:"sort_order"`
}

// Tenant is an organization account running registrations.
type Tenant struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Plan                PlanTier  `json:"plan"`
	StepDeliveryEnabled bool      `json:"step_delivery_enabled"`
	SlotCapacity        int       `json:"slot_capacity"` // 0 = unlimited
	CreatedAt           time.Time `json:"created_at"`
}

// TenantCredentials carries the messaging credentials of a tenant.
type TenantCredentials struct {
	TenantID      string       `json:"tenant_id"`
	ChannelToken  SecretString `json:"channel_token"`
	ChannelSecret SecretString `json:"channel_secret"`
	AppLinkID     string       `json:"app_link_id,omitempty"`
	// Fallback is set when the system default credentials were substituted
	// because the tenant's own could not be resolved.
	Fallback bool `json:"fallback"`
}

// PlanLimits defines the per-tenant quota for each category.
// A zero value means unlimited.
type PlanLimits struct {
	MaxEvents              int `json:"max_events"`
	MaxReminders           int `json:"max_reminders"`
	MaxStepMessages        int `json:"max_step_messages"`
	MaxMonthlyApplications int `json:"max_monthly_applications"`
}

// Limit returns the limit for the given category.
func (l PlanLimits) Limit(c QuotaCategory) int {
	switch c {
	case QuotaEvents:
		return l.MaxEvents
	case QuotaReminders:
		return l.MaxReminders
	case QuotaStepMessages:
		return l.MaxStepMessages
	case QuotaApplications:
		return l.MaxMonthlyApplications
	default:
		return 0
	}
}

// TenantUsage is the current usage snapshot of a tenant in its billing period.
type TenantUsage struct {
	TenantID     string     `json:"tenant_id"`
	Plan         PlanTier   `json:"plan"`
	Limits       PlanLimits `json:"limits"`
	Events       int        `json:"events"`
	Reminders    int        `json:"reminders"`
	StepMessages int        `json:"step_messages"`
	Applications int        `json:"applications"`
	PeriodStart  time.Time  `json:"period_start"`
	PeriodEnd    time.Time  `json:"period_end"`
	// LimitOverride is a per-tenant override of the plan's limits, written by
	// the billing side. Nil means the plan defaults apply.
	LimitOverride *PlanLimits `json:"limit_override,omitempty"`
}

// Used returns the counter for the given category.
func (u TenantUsage) Used(c QuotaCategory) int {
	switch c {
	case QuotaEvents:
		return u.Events
	case QuotaReminders:
		return u.Reminders
	case QuotaStepMessages:
		return u.StepMessages
	case QuotaApplications:
		return u.Applications
	default:
		return 0
	}
}

// AutoReply maps an inbound keyword to a canned reply for a tenant.
type AutoReply struct {
	TenantID string `json:"tenant_id"`
	Keyword  string `json:"keyword"`
	Reply    string `json:"reply"`
}

package types

import "strconv"

// ApplicationStatus represents the lifecycle state of a registration.
type ApplicationStatus string

const (
	ApplicationApplied  ApplicationStatus = "applied"
	ApplicationCanceled ApplicationStatus = "canceled"
)

// DeliveryCategory separates reminders from follow-up step messages. The
// dispatcher selects due records per category and each category has its own
// quota counter.
type DeliveryCategory string

const (
	CategoryReminder DeliveryCategory = "reminder"
	CategoryStep     DeliveryCategory = "step"
)

// DeliveryCategories lists the categories in dispatch order.
var DeliveryCategories = []DeliveryCategory{CategoryReminder, CategoryStep}

// QuotaCategory returns the usage counter consumed by records of this category.
func (c DeliveryCategory) QuotaCategory() QuotaCategory {
	if c == CategoryStep {
		return QuotaStepMessages
	}
	return QuotaReminders
}

// Delivery record kind tags.
const (
	KindReminderDayBefore = "reminder:T-24h"
	KindReminderDayOf     = "reminder:day-of"
	KindReminderCustom    = "reminder:custom"
	kindStepPrefix        = "step:"
)

// StepKind returns the kind tag for the n-th (1-based) step message.
func StepKind(n int) string {
	return kindStepPrefix + strconv.Itoa(n)
}

// DeliveryState is the state of a Delivery Record.
//
//	pending -> sending -> sent
//	pending -> skipped
//	sending -> pending | failed
type DeliveryState string

const (
	DeliveryPending DeliveryState = "pending"
	DeliverySending DeliveryState = "sending"
	DeliverySent    DeliveryState = "sent"
	DeliverySkipped DeliveryState = "skipped"
	DeliveryFailed  DeliveryState = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s DeliveryState) IsTerminal() bool {
	switch s {
	case DeliverySent, DeliverySkipped, DeliveryFailed:
		return true
	default:
		return false
	}
}

// TemplateCategory identifies which message a template renders.
type TemplateCategory string

const (
	TemplateReminder   TemplateCategory = "reminder"
	TemplateStep       TemplateCategory = "step"
	TemplateWelcome    TemplateCategory = "welcome"
	TemplateCompletion TemplateCategory = "completion"
)

// PlanTier identifies the subscription plan of a tenant.
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanStandard   PlanTier = "standard"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

// QuotaCategory names a per-tenant usage counter guarded by the quota gate.
type QuotaCategory string

const (
	QuotaEvents       QuotaCategory = "events"
	QuotaReminders    QuotaCategory = "reminders"
	QuotaStepMessages QuotaCategory = "step_messages"
	QuotaApplications QuotaCategory = "applications"
)

// Valid reports whether c is a known quota category.
func (c QuotaCategory) Valid() bool {
	switch c {
	case QuotaEvents, QuotaReminders, QuotaStepMessages, QuotaApplications:
		return true
	default:
		return false
	}
}

package types

import "testing"

func TestDeliveryStateIsTerminal(t *testing.T) {
	tests := []struct {
		state DeliveryState
		want  bool
	}{
		{DeliveryPending, false},
		{DeliverySending, false},
		{DeliverySent, true},
		{DeliverySkipped, true},
		{DeliveryFailed, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestDeliveryCategoryQuotaCategory(t *testing.T) {
	if got := CategoryReminder.QuotaCategory(); got != QuotaReminders {
		t.Errorf("reminder -> %q, want %q", got, QuotaReminders)
	}
	if got := CategoryStep.QuotaCategory(); got != QuotaStepMessages {
		t.Errorf("step -> %q, want %q", got, QuotaStepMessages)
	}
}

func TestStepKind(t *testing.T) {
	if got := StepKind(1); got != "step:1" {
		t.Errorf("StepKind(1) = %q", got)
	}
	if got := StepKind(12); got != "step:12" {
		t.Errorf("StepKind(12) = %q", got)
	}
}

func TestPlanLimitsAndUsageLookup(t *testing.T) {
	limits := PlanLimits{MaxEvents: 1, MaxReminders: 2, MaxStepMessages: 3, MaxMonthlyApplications: 4}
	usage := TenantUsage{Events: 5, Reminders: 6, StepMessages: 7, Applications: 8}

	cases := []struct {
		cat       QuotaCategory
		wantLimit int
		wantUsed  int
	}{
		{QuotaEvents, 1, 5},
		{QuotaReminders, 2, 6},
		{QuotaStepMessages, 3, 7},
		{QuotaApplications, 4, 8},
		{QuotaCategory("bogus"), 0, 0},
	}
	for _, c := range cases {
		if got := limits.Limit(c.cat); got != c.wantLimit {
			t.Errorf("Limit(%s) = %d, want %d", c.cat, got, c.wantLimit)
		}
		if got := usage.Used(c.cat); got != c.wantUsed {
			t.Errorf("Used(%s) = %d, want %d", c.cat, got, c.wantUsed)
		}
	}
	if QuotaCategory("bogus").Valid() {
		t.Error("bogus category should be invalid")
	}
}

package commands

import (
	"context"
	"errors"
	"strings"
	"testing"

	"eventbell/internal/schedule"
	"eventbell/internal/types"
)

type fakeApplicants struct {
	consent   map[string]bool
	upserted  []*types.Applicant
	setErr    error
	upsertErr error
}

func (f *fakeApplicants) Upsert(_ context.Context, a *types.Applicant) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, a)
	f.consent[a.ChatUserID] = a.Consent
	return nil
}

func (f *fakeApplicants) SetConsent(_ context.Context, _ string, chatUserID string, consent bool) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.consent[chatUserID] = consent
	return nil
}

type fakeApplications struct {
	latest   *types.Application
	canceled []string
	lostRace bool
}

func (f *fakeApplications) LatestActiveForApplicant(context.Context, string, string) (*types.Application, error) {
	return f.latest, nil
}

func (f *fakeApplications) Cancel(_ context.Context, id string) (bool, error) {
	if f.lostRace {
		return false, nil
	}
	f.canceled = append(f.canceled, id)
	return true, nil
}

type fakeDeliveries struct {
	skippedApplicants   []string
	skippedApplications []string
	err                 error
}

func (f *fakeDeliveries) SkipPendingForApplicant(_ context.Context, _ string, applicantID string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.skippedApplicants = append(f.skippedApplicants, applicantID)
	return 2, nil
}

func (f *fakeDeliveries) SkipPendingForApplication(_ context.Context, applicationID string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.skippedApplications = append(f.skippedApplications, applicationID)
	return 3, nil
}

type fakeAutoReplies struct {
	replies map[string]string
}

func (f *fakeAutoReplies) FindAutoReply(_ context.Context, tenantID, keyword string) (*types.AutoReply, error) {
	r, ok := f.replies[keyword]
	if !ok {
		return nil, nil
	}
	return &types.AutoReply{TenantID: tenantID, Keyword: keyword, Reply: r}, nil
}

type fakeCredentials struct{}

func (fakeCredentials) ResolveOrDefault(_ context.Context, tenantID string) *types.TenantCredentials {
	return &types.TenantCredentials{TenantID: tenantID, ChannelToken: "tok"}
}

type fakeMessenger struct {
	bodies []string
	err    error
}

func (m *fakeMessenger) Push(_ context.Context, _ string, body string, _ *types.TenantCredentials) error {
	m.bodies = append(m.bodies, body)
	return m.err
}

type fixture struct {
	applicants   *fakeApplicants
	applications *fakeApplications
	deliveries   *fakeDeliveries
	messenger    *fakeMessenger
	handler      *Handler
}

func newFixture() *fixture {
	f := &fixture{
		applicants:   &fakeApplicants{consent: map[string]bool{"U1": true}},
		applications: &fakeApplications{},
		deliveries:   &fakeDeliveries{},
		messenger:    &fakeMessenger{},
	}
	f.handler = NewHandler(Config{
		Applicants:   f.applicants,
		Applications: f.applications,
		Deliveries:   f.deliveries,
		AutoReplies:  &fakeAutoReplies{replies: map[string]string{"場所": "会場は本社3Fです。"}},
		Credentials:  fakeCredentials{},
		Messenger:    f.messenger,
		Templates:    schedule.NewTemplateSource(nil, nil),
	})
	return f
}

func TestHandle_Stop(t *testing.T) {
	for _, text := range []string{"stop", "  STOP ", "Unsubscribe", "配信停止"} {
		t.Run(text, func(t *testing.T) {
			f := newFixture()
			out, err := f.handler.Handle(context.Background(), "t1", "U1", text)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out != OutcomeStopped {
				t.Errorf("outcome = %s, want %s", out, OutcomeStopped)
			}
			if f.applicants.consent["U1"] {
				t.Error("consent should be revoked")
			}
			if len(f.deliveries.skippedApplicants) != 1 {
				t.Error("pending records should be skipped")
			}
			if len(f.messenger.bodies) != 1 || f.messenger.bodies[0] != replyStopped {
				t.Errorf("unexpected replies: %v", f.messenger.bodies)
			}
		})
	}
}

func TestHandle_StopSkipFailureIsBestEffort(t *testing.T) {
	f := newFixture()
	f.deliveries.err = errors.New("db down")

	out, err := f.handler.Handle(context.Background(), "t1", "U1", "stop")
	if err != nil || out != OutcomeStopped {
		t.Fatalf("got (%s, %v), want stopped", out, err)
	}
	if f.applicants.consent["U1"] {
		t.Error("consent should be revoked even when the skip fails")
	}
}

func TestHandle_StopConsentError(t *testing.T) {
	f := newFixture()
	f.applicants.setErr = errors.New("db down")

	if _, err := f.handler.Handle(context.Background(), "t1", "U1", "stop"); err == nil {
		t.Fatal("expected error")
	}
	if len(f.messenger.bodies) != 0 {
		t.Error("no acknowledgement expected on failure")
	}
}

func TestHandle_Resume(t *testing.T) {
	f := newFixture()
	f.applicants.consent["U1"] = false

	out, err := f.handler.Handle(context.Background(), "t1", "U1", "配信再開")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != OutcomeResumed || !f.applicants.consent["U1"] {
		t.Errorf("got %s consent=%v", out, f.applicants.consent["U1"])
	}
	if len(f.deliveries.skippedApplicants) != 0 {
		t.Error("resume must not touch delivery records")
	}
}

func TestHandle_Cancel(t *testing.T) {
	f := newFixture()
	f.applications.latest = &types.Application{ID: "app_1", Plan: "Go入門"}

	out, err := f.handler.Handle(context.Background(), "t1", "U1", "キャンセル")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != OutcomeCanceled {
		t.Errorf("outcome = %s, want %s", out, OutcomeCanceled)
	}
	if len(f.applications.canceled) != 1 || f.applications.canceled[0] != "app_1" {
		t.Errorf("unexpected cancellations: %v", f.applications.canceled)
	}
	if len(f.deliveries.skippedApplications) != 1 || f.deliveries.skippedApplications[0] != "app_1" {
		t.Errorf("unexpected skips: %v", f.deliveries.skippedApplications)
	}
	if len(f.messenger.bodies) != 1 || !strings.Contains(f.messenger.bodies[0], "Go入門") {
		t.Errorf("unexpected replies: %v", f.messenger.bodies)
	}
}

func TestHandle_CancelWithoutApplication(t *testing.T) {
	f := newFixture()

	out, err := f.handler.Handle(context.Background(), "t1", "U1", "cancel")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != OutcomeNothingToCancel {
		t.Errorf("outcome = %s, want %s", out, OutcomeNothingToCancel)
	}
	if len(f.deliveries.skippedApplications) != 0 {
		t.Error("nothing should be skipped")
	}
}

func TestHandle_CancelLostRace(t *testing.T) {
	f := newFixture()
	f.applications.latest = &types.Application{ID: "app_1"}
	f.applications.lostRace = true

	out, _ := f.handler.Handle(context.Background(), "t1", "U1", "cancel")
	if out != OutcomeNothingToCancel {
		t.Errorf("outcome = %s, want %s", out, OutcomeNothingToCancel)
	}
}

func TestHandle_AutoReplyAndIgnored(t *testing.T) {
	f := newFixture()

	out, err := f.handler.Handle(context.Background(), "t1", "U1", " 場所 ")
	if err != nil || out != OutcomeAutoReplied {
		t.Fatalf("got (%s, %v), want auto_replied", out, err)
	}
	if len(f.messenger.bodies) != 1 || f.messenger.bodies[0] != "会場は本社3Fです。" {
		t.Errorf("unexpected replies: %v", f.messenger.bodies)
	}

	for _, text := range []string{"hello", "", "   "} {
		out, err := f.handler.Handle(context.Background(), "t1", "U1", text)
		if err != nil || out != OutcomeIgnored {
			t.Errorf("%q: got (%s, %v), want ignored", text, out, err)
		}
	}
	if len(f.messenger.bodies) != 1 {
		t.Errorf("ignored messages must be silent, got %v", f.messenger.bodies)
	}
}

func TestHandle_PushFailureDoesNotFailCommand(t *testing.T) {
	f := newFixture()
	f.messenger.err = errors.New("upstream down")

	out, err := f.handler.Handle(context.Background(), "t1", "U1", "resume")
	if err != nil || out != OutcomeResumed {
		t.Fatalf("got (%s, %v), want resumed", out, err)
	}
}

func TestFollow(t *testing.T) {
	f := newFixture()

	if err := f.handler.Follow(context.Background(), "t1", "U9", "Hanako"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.applicants.consent["U9"] {
		t.Error("follower should consent")
	}
	if len(f.messenger.bodies) != 1 || !strings.Contains(f.messenger.bodies[0], "友だち追加") {
		t.Errorf("expected welcome message, got %v", f.messenger.bodies)
	}
}

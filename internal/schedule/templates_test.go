package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"eventbell/internal/types"
)

type fakeTemplateRepo struct {
	byCategory map[types.TemplateCategory][]types.MessageTemplate
	err        error
	calls      int
}

func (f *fakeTemplateRepo) ListActive(_ context.Context, _ string, category types.TemplateCategory) ([]types.MessageTemplate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.byCategory[category], nil
}

func TestDefaultTemplatesFor(t *testing.T) {
	reminders := DefaultTemplatesFor(types.TemplateReminder)
	if len(reminders) != 2 {
		t.Fatalf("expected 2 default reminders, got %d", len(reminders))
	}
	if reminders[0].OffsetDays != -1 || reminders[0].TimeOfDay != "" {
		t.Errorf("T-24h default = %+v", reminders[0])
	}
	if reminders[1].OffsetDays != 0 || reminders[1].TimeOfDay != "08:00" {
		t.Errorf("day-of default = %+v", reminders[1])
	}

	steps := DefaultTemplatesFor(types.TemplateStep)
	var offsets []int
	for _, s := range steps {
		offsets = append(offsets, s.OffsetDays)
		if s.Category != types.TemplateStep || !s.Active {
			t.Errorf("step default not tagged: %+v", s)
		}
	}
	if len(offsets) != 3 || offsets[0] != 1 || offsets[1] != 3 || offsets[2] != 7 {
		t.Errorf("step offsets = %v, want [1 3 7]", offsets)
	}

	if got := DefaultTemplatesFor("unknown"); got != nil {
		t.Errorf("unknown category returned %v", got)
	}
}

func TestDefaultTemplatesFor_ReturnsCopies(t *testing.T) {
	first := DefaultTemplatesFor(types.TemplateReminder)
	first[0].Body = "mutated"
	first[0].OffsetDays = 99

	second := DefaultTemplatesFor(types.TemplateReminder)
	if second[0].Body == "mutated" || second[0].OffsetDays == 99 {
		t.Fatal("mutating a returned slice leaked into the defaults")
	}
}

func TestTemplateSource_Templates(t *testing.T) {
	ctx := context.Background()
	custom := []types.MessageTemplate{{ID: "tpl_1", Category: types.TemplateReminder, OffsetDays: -3, TimeOfDay: "19:00", Body: "x"}}

	t.Run("tenant templates win", func(t *testing.T) {
		repo := &fakeTemplateRepo{byCategory: map[types.TemplateCategory][]types.MessageTemplate{types.TemplateReminder: custom}}
		got, isCustom := NewTemplateSource(repo, nil).Templates(ctx, "t1", types.TemplateReminder)
		if !isCustom || len(got) != 1 || got[0].ID != "tpl_1" {
			t.Errorf("got %v custom=%v", got, isCustom)
		}
	})

	t.Run("no templates falls back", func(t *testing.T) {
		repo := &fakeTemplateRepo{}
		got, isCustom := NewTemplateSource(repo, nil).Templates(ctx, "t1", types.TemplateStep)
		if isCustom || len(got) != 3 {
			t.Errorf("got %d templates custom=%v", len(got), isCustom)
		}
	})

	t.Run("store error falls back", func(t *testing.T) {
		repo := &fakeTemplateRepo{err: errors.New("db down")}
		got, isCustom := NewTemplateSource(repo, nil).Templates(ctx, "t1", types.TemplateReminder)
		if isCustom || len(got) != 2 {
			t.Errorf("got %d templates custom=%v", len(got), isCustom)
		}
		if repo.calls != 1 {
			t.Errorf("repo calls = %d", repo.calls)
		}
	})

	t.Run("first completion template", func(t *testing.T) {
		tpl, ok := NewTemplateSource(nil, nil).First(ctx, "t1", types.TemplateCompletion)
		if !ok || tpl.ID != "completion" {
			t.Errorf("First = %+v, %v", tpl, ok)
		}
	})
}

func TestRender(t *testing.T) {
	r := NewResolver(time.FixedZone("JST", 9*3600))
	slot := time.Date(2025, 12, 10, 5, 0, 0, 0, time.UTC)
	vars := NewRenderVars(r, "Intro to Go", "Hanako", slot)

	got := Render("{name}: {plan} at {time} ({datetime}) {unknown}", vars)
	want := "Hanako: Intro to Go at 14:00 (2025/12/10 14:00) {unknown}"
	if got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}

	if got := Render("no placeholders", vars); got != "no placeholders" {
		t.Errorf("Render = %q", got)
	}
}

package schedule

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"eventbell/internal/types"
)

// Built-in templates used when a tenant has none of a category. The IDs of
// the default reminders and steps double as their delivery kind tags.
var defaultTemplates = map[types.TemplateCategory][]types.MessageTemplate{
	types.TemplateReminder: {
		{ID: types.KindReminderDayBefore, OffsetDays: -1, TimeOfDay: "", Body: "明日 {time} から「{plan}」が始まります。お気をつけてお越しください。"},
		{ID: types.KindReminderDayOf, OffsetDays: 0, TimeOfDay: "08:00", Body: "本日 {time} から「{plan}」です。お待ちしております。", SortOrder: 1},
	},
	types.TemplateStep: {
		{ID: types.StepKind(1), OffsetDays: 1, TimeOfDay: "10:00", Body: "昨日は「{plan}」にご参加いただきありがとうございました。"},
		{ID: types.StepKind(2), OffsetDays: 3, TimeOfDay: "10:00", Body: "「{plan}」の内容は振り返りできましたか？ご質問はこのトークでお気軽にどうぞ。", SortOrder: 1},
		{ID: types.StepKind(3), OffsetDays: 7, TimeOfDay: "10:00", Body: "「{plan}」から1週間が経ちました。次回のご案内をお届けします。", SortOrder: 2},
	},
	types.TemplateWelcome: {
		{ID: "welcome", Body: "友だち追加ありがとうございます！セミナーのお申し込みはメニューからどうぞ。"},
	},
	types.TemplateCompletion: {
		{ID: "completion", Body: "{name}様、「{plan}」（{datetime}）のお申し込みを受け付けました。当日お会いできるのを楽しみにしています。"},
	},
}

// DefaultTemplatesFor returns fresh copies of the built-in templates of a
// category. Unknown categories return nil.
func DefaultTemplatesFor(category types.TemplateCategory) []types.MessageTemplate {
	src := defaultTemplates[category]
	if len(src) == 0 {
		return nil
	}
	out := make([]types.MessageTemplate, len(src))
	copy(out, src)
	for i := range out {
		out[i].Category = category
		out[i].Active = true
	}
	return out
}

// TemplateRepo is the read side of the tenant template store.
type TemplateRepo interface {
	ListActive(ctx context.Context, tenantID string, category types.TemplateCategory) ([]types.MessageTemplate, error)
}

// TemplateSource resolves the templates that apply to a tenant.
type TemplateSource struct {
	repo   TemplateRepo
	logger *slog.Logger
}

// NewTemplateSource creates a TemplateSource. A nil repo always yields the
// defaults.
func NewTemplateSource(repo TemplateRepo, logger *slog.Logger) *TemplateSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplateSource{repo: repo, logger: logger}
}

// Templates returns the tenant's active templates of a category and true, or
// the built-in defaults and false when the tenant has none. A store failure
// is logged and the defaults are used.
func (s *TemplateSource) Templates(ctx context.Context, tenantID string, category types.TemplateCategory) ([]types.MessageTemplate, bool) {
	if s.repo != nil {
		tpls, err := s.repo.ListActive(ctx, tenantID, category)
		if err != nil {
			s.logger.WarnContext(ctx, "template lookup failed, using defaults",
				"tenant_id", tenantID,
				"category", string(category),
				"error", err,
			)
		} else if len(tpls) > 0 {
			return tpls, true
		}
	}
	return DefaultTemplatesFor(category), false
}

// First returns the first applicable template of a category. It is used for
// the single-message categories (welcome, completion).
func (s *TemplateSource) First(ctx context.Context, tenantID string, category types.TemplateCategory) (types.MessageTemplate, bool) {
	tpls, _ := s.Templates(ctx, tenantID, category)
	if len(tpls) == 0 {
		return types.MessageTemplate{}, false
	}
	return tpls[0], true
}

// RenderVars holds the placeholder values of a message body.
type RenderVars struct {
	Plan     string
	Name     string
	Time     string
	DateTime string
}

// NewRenderVars builds the variables for an application's slot, formatted in
// the resolver's zone.
func NewRenderVars(r *Resolver, plan, name string, slot time.Time) RenderVars {
	return RenderVars{
		Plan:     plan,
		Name:     name,
		Time:     r.FormatTime(slot),
		DateTime: r.FormatDateTime(slot),
	}
}

// Render substitutes {plan}, {time}, {datetime} and {name} in body. Unknown
// placeholders are left as-is.
func Render(body string, vars RenderVars) string {
	return strings.NewReplacer(
		"{plan}", vars.Plan,
		"{time}", vars.Time,
		"{datetime}", vars.DateTime,
		"{name}", vars.Name,
	).Replace(body)
}

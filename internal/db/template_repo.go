package db

import (
	"context"

	"eventbell/internal/types"
)

// TemplateRepository reads tenant message templates.
type TemplateRepository struct {
	db DBTX
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db DBTX) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// ListActive returns the tenant's active templates of a category ordered by
// sort order, then offset.
func (r *TemplateRepository) ListActive(ctx context.Context, tenantID string, category types.TemplateCategory) ([]types.MessageTemplate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, tenant_id, category, offset_days, COALESCE(time_of_day, ''), body, active, sort_order
		 FROM message_templates
		 WHERE tenant_id = $1 AND category = $2 AND active
		 ORDER BY sort_order ASC, offset_days ASC, id ASC`,
		tenantID, string(category),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list templates", err)
	}
	defer rows.Close()

	var out []types.MessageTemplate
	for rows.Next() {
		var (
			t   types.MessageTemplate
			cat string
		)
		if err := rows.Scan(&t.ID, &t.TenantID, &cat, &t.OffsetDays, &t.TimeOfDay, &t.Body, &t.Active, &t.SortOrder); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan template", err)
		}
		t.Category = types.TemplateCategory(cat)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate templates", err)
	}
	return out, nil
}

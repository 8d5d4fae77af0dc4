package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"eventbell/internal/types"
)

// TenantRepository reads tenant settings, credentials and auto-replies.
// Writes belong to the dashboard and billing services.
type TenantRepository struct {
	db DBTX
}

// NewTenantRepository creates a new TenantRepository.
func NewTenantRepository(db DBTX) *TenantRepository {
	return &TenantRepository{db: db}
}

// GetByID returns the tenant or not_found_tenant.
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*types.Tenant, error) {
	var (
		t    types.Tenant
		plan string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, name, plan, step_delivery_enabled, slot_capacity, created_at
		 FROM tenants
		 WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.Name, &plan, &t.StepDeliveryEnabled, &t.SlotCapacity, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTenant, "tenant not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve tenant", err)
	}
	t.Plan = types.PlanTier(plan)
	return &t, nil
}

// GetCredentials returns the tenant's stored messaging credentials. Empty
// values are returned as-is; deciding whether they are usable is the
// caller's concern.
func (r *TenantRepository) GetCredentials(ctx context.Context, tenantID string) (*types.TenantCredentials, error) {
	var token, secret, appLink string
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(channel_token, ''), COALESCE(channel_secret, ''), COALESCE(app_link_id, '')
		 FROM tenants
		 WHERE id = $1`,
		tenantID,
	).Scan(&token, &secret, &appLink)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTenant, "tenant not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve tenant credentials", err)
	}
	return &types.TenantCredentials{
		TenantID:      tenantID,
		ChannelToken:  types.SecretString(token),
		ChannelSecret: types.SecretString(secret),
		AppLinkID:     appLink,
	}, nil
}

// FindAutoReply returns the tenant's reply for the keyword, or nil. Keywords
// are stored normalized (trimmed, lower-case).
func (r *TenantRepository) FindAutoReply(ctx context.Context, tenantID, keyword string) (*types.AutoReply, error) {
	var ar types.AutoReply
	err := r.db.QueryRow(ctx,
		`SELECT tenant_id, keyword, reply
		 FROM auto_replies
		 WHERE tenant_id = $1 AND keyword = $2`,
		tenantID, strings.ToLower(strings.TrimSpace(keyword)),
	).Scan(&ar.TenantID, &ar.Keyword, &ar.Reply)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up auto-reply", err)
	}
	return &ar, nil
}

package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"eventbell/internal/types"
)

// ApplicantRepository provides data access for the applicants table, keyed
// by (tenant_id, chat_user_id).
type ApplicantRepository struct {
	db DBTX
}

// NewApplicantRepository creates a new ApplicantRepository.
func NewApplicantRepository(db DBTX) *ApplicantRepository {
	return &ApplicantRepository{db: db}
}

// Upsert creates the applicant or updates its display name and consent.
// An empty display name keeps the stored one.
func (r *ApplicantRepository) Upsert(ctx context.Context, a *types.Applicant) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO applicants (tenant_id, chat_user_id, display_name, consent)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, chat_user_id) DO UPDATE
		   SET display_name = COALESCE(EXCLUDED.display_name, applicants.display_name),
		       consent = EXCLUDED.consent,
		       updated_at = NOW()
		 RETURNING COALESCE(display_name, ''), created_at, updated_at`,
		a.TenantID,
		a.ChatUserID,
		nilIfEmpty(a.DisplayName),
		a.Consent,
	).Scan(&a.DisplayName, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert applicant", err)
	}
	return nil
}

// Get returns the applicant or not_found_applicant.
func (r *ApplicantRepository) Get(ctx context.Context, tenantID, chatUserID string) (*types.Applicant, error) {
	var a types.Applicant
	err := r.db.QueryRow(ctx,
		`SELECT tenant_id, chat_user_id, COALESCE(display_name, ''), consent, created_at, updated_at
		 FROM applicants
		 WHERE tenant_id = $1 AND chat_user_id = $2`,
		tenantID, chatUserID,
	).Scan(&a.TenantID, &a.ChatUserID, &a.DisplayName, &a.Consent, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundApplicant, "applicant not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve applicant", err)
	}
	return &a, nil
}

// SetConsent updates the consent flag. Unknown applicants are created so a
// stop command from a user who never registered is still remembered.
func (r *ApplicantRepository) SetConsent(ctx context.Context, tenantID, chatUserID string, consent bool) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO applicants (tenant_id, chat_user_id, consent)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, chat_user_id) DO UPDATE
		   SET consent = EXCLUDED.consent, updated_at = NOW()`,
		tenantID, chatUserID, consent,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update consent", err)
	}
	return nil
}

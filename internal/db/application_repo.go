package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"eventbell/internal/types"
)

// ApplicationRepository provides data access for the applications table.
// A partial unique index on (tenant_id, applicant_id, slot_time) WHERE
// status = 'applied' backs the duplicate check.
type ApplicationRepository struct {
	db DBTX
}

// NewApplicationRepository creates a new ApplicationRepository.
func NewApplicationRepository(db DBTX) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

const applicationColumns = `id, tenant_id, applicant_id, slot_time, plan, note, status, created_at, updated_at`

// Create inserts a new application. A concurrent duplicate that slipped past
// the pre-check surfaces as conflict_duplicate_application.
func (r *ApplicationRepository) Create(ctx context.Context, app *types.Application) error {
	status := app.Status
	if status == "" {
		status = types.ApplicationApplied
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO applications (id, tenant_id, applicant_id, slot_time, plan, note, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		app.ID,
		app.TenantID,
		app.ApplicantID,
		app.SlotTime.UTC(),
		app.Plan,
		nilIfEmpty(app.Note),
		string(status),
	).Scan(&app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictDuplicate, "applicant already registered for this slot", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create application", err)
	}
	app.Status = status
	return nil
}

// TxStarter opens transactions. *pgxpool.Pool and pgx.Tx satisfy it.
type TxStarter interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CreateWithinCapacity inserts app unless its slot already holds capacity
// applied registrations. Registrations for the same slot serialize on a
// transaction-scoped advisory lock, so the count and the insert cannot
// interleave with another registration. capacity <= 0 means unlimited.
func (r *ApplicationRepository) CreateWithinCapacity(ctx context.Context, app *types.Application, capacity int) error {
	if capacity <= 0 {
		return r.Create(ctx, app)
	}
	starter, ok := r.db.(TxStarter)
	if !ok {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "capacity check requires a transactional connection", nil)
	}

	tx, err := starter.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	slot := app.SlotTime.UTC()
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`,
		app.TenantID, slot.Format(time.RFC3339),
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to lock slot", err)
	}

	inTx := NewApplicationRepository(tx)
	n, err := inTx.CountActiveForSlot(ctx, app.TenantID, slot)
	if err != nil {
		return err
	}
	if n >= capacity {
		return types.NewAppErrorWithDetails(types.ErrCodeConflictSlotFull, "slot is full", nil,
			map[string]any{"capacity": capacity})
	}
	if err := inTx.Create(ctx, app); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit application", err)
	}
	return nil
}

// GetByID returns the application or not_found_application.
func (r *ApplicationRepository) GetByID(ctx context.Context, id string) (*types.Application, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`,
		id,
	)
	app, err := scanApplication(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundApplication, "application not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve application", err)
	}
	return app, nil
}

// ExistsActive reports whether the applicant already holds an applied
// registration for the slot.
func (r *ApplicationRepository) ExistsActive(ctx context.Context, tenantID, applicantID string, slot time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM applications
		   WHERE tenant_id = $1 AND applicant_id = $2 AND slot_time = $3 AND status = 'applied'
		 )`,
		tenantID, applicantID, slot.UTC(),
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check duplicate application", err)
	}
	return exists, nil
}

// CountActiveForSlot returns the number of applied registrations for a slot.
func (r *ApplicationRepository) CountActiveForSlot(ctx context.Context, tenantID string, slot time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM applications
		 WHERE tenant_id = $1 AND slot_time = $2 AND status = 'applied'`,
		tenantID, slot.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count slot applications", err)
	}
	return n, nil
}

// LatestActiveForApplicant returns the most recently created applied
// registration of the applicant, or nil when there is none.
func (r *ApplicationRepository) LatestActiveForApplicant(ctx context.Context, tenantID, applicantID string) (*types.Application, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+applicationColumns+`
		 FROM applications
		 WHERE tenant_id = $1 AND applicant_id = $2 AND status = 'applied'
		 ORDER BY created_at DESC
		 LIMIT 1`,
		tenantID, applicantID,
	)
	app, err := scanApplication(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve latest application", err)
	}
	return app, nil
}

// Cancel moves an applied registration to canceled. It returns false if the
// application was not in the applied state.
func (r *ApplicationRepository) Cancel(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE applications
		 SET status = 'canceled', updated_at = NOW()
		 WHERE id = $1 AND status = 'applied'`,
		id,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to cancel application", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanApplication(row pgx.Row) (*types.Application, error) {
	var (
		app    types.Application
		note   *string
		status string
	)
	if err := row.Scan(
		&app.ID,
		&app.TenantID,
		&app.ApplicantID,
		&app.SlotTime,
		&app.Plan,
		&note,
		&status,
		&app.CreatedAt,
		&app.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if note != nil {
		app.Note = *note
	}
	app.Status = types.ApplicationStatus(status)
	return &app, nil
}

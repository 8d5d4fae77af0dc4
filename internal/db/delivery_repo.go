package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"eventbell/internal/types"
)

// MaxDueBatch caps how many due records a single listing returns.
const MaxDueBatch = 100

// DeliveryRepository persists Delivery Records and enforces their state
// machine with conditional updates:
//
//	pending -> sending   Claim
//	sending -> sent      MarkSent
//	sending -> pending   Release (below the failure cap), Requeue, ReleaseStaleClaims
//	sending -> failed    Release (at the failure cap)
//	pending -> skipped   SkipPendingFor*
//
// Every UPDATE is guarded by the expected source state, so rows in sent,
// skipped or failed are never touched again.
type DeliveryRepository struct {
	db DBTX
}

// NewDeliveryRepository creates a new DeliveryRepository.
func NewDeliveryRepository(db DBTX) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

const deliveryColumns = `id, application_id, applicant_id, tenant_id, category, kind, fire_at, body,
	state, sent_at, suppressed, failure_count, last_error, claimed_at, created_at, updated_at`

const deliveryInsertArgs = 9

// CreateBatch inserts all records in one statement, so either every record
// of a schedule is stored or none is.
func (r *DeliveryRepository) CreateBatch(ctx context.Context, records []*types.DeliveryRecord) error {
	if len(records) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO delivery_records
		(id, application_id, applicant_id, tenant_id, category, kind, fire_at, body, state)
		VALUES `)
	args := make([]any, 0, len(records)*deliveryInsertArgs)
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * deliveryInsertArgs
		sb.WriteString("(")
		for j := 1; j <= deliveryInsertArgs; j++ {
			if j > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+j)
		}
		sb.WriteString(")")

		state := rec.State
		if state == "" {
			state = types.DeliveryPending
		}
		args = append(args,
			rec.ID,
			rec.ApplicationID,
			rec.ApplicantID,
			rec.TenantID,
			string(rec.Category),
			rec.Kind,
			rec.FireAt.UTC(),
			rec.Body,
			string(state),
		)
	}

	if _, err := r.db.Exec(ctx, sb.String(), args...); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert delivery records", err)
	}
	return nil
}

// ListDue returns pending records of the category whose fire time is at or
// before now, oldest first. limit is clamped to (0, MaxDueBatch].
func (r *DeliveryRepository) ListDue(ctx context.Context, category types.DeliveryCategory, now time.Time, limit int) ([]*types.DeliveryRecord, error) {
	if limit <= 0 || limit > MaxDueBatch {
		limit = MaxDueBatch
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+deliveryColumns+`
		 FROM delivery_records
		 WHERE category = $1 AND state = 'pending' AND fire_at <= $2
		 ORDER BY fire_at ASC, id ASC
		 LIMIT $3`,
		string(category), now.UTC(), limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list due delivery records", err)
	}
	return collectDeliveries(rows)
}

// ListByApplication returns every record created for an application.
func (r *DeliveryRepository) ListByApplication(ctx context.Context, applicationID string) ([]*types.DeliveryRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+deliveryColumns+`
		 FROM delivery_records
		 WHERE application_id = $1
		 ORDER BY fire_at ASC, id ASC`,
		applicationID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list delivery records", err)
	}
	return collectDeliveries(rows)
}

// Claim moves a record from pending to sending. It returns false when the
// record is no longer pending, i.e. another dispatcher or a cancellation
// got there first.
func (r *DeliveryRepository) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_records
		 SET state = 'sending', claimed_at = $2, updated_at = $2
		 WHERE id = $1 AND state = 'pending'`,
		id, now.UTC(),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim delivery record", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSent records a completed delivery. suppressed marks records finished
// without a push because consent was withdrawn or the applicant is gone.
func (r *DeliveryRepository) MarkSent(ctx context.Context, id string, sentAt time.Time, suppressed bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_records
		 SET state = 'sent', sent_at = $2, suppressed = $3, claimed_at = NULL, updated_at = $2
		 WHERE id = $1 AND state = 'sending'`,
		id, sentAt.UTC(), suppressed,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark delivery record sent", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictConcurrent, "delivery record is not claimed", nil)
	}
	return nil
}

// Release returns a claimed record to pending after a failed send and bumps
// its failure count. Once the count reaches maxFailures the record becomes
// failed instead. maxFailures <= 0 disables the cap. The resulting state is
// returned.
func (r *DeliveryRepository) Release(ctx context.Context, id string, reason string, maxFailures int) (types.DeliveryState, error) {
	var state string
	err := r.db.QueryRow(ctx,
		`UPDATE delivery_records
		 SET failure_count = failure_count + 1,
		     last_error = $2,
		     claimed_at = NULL,
		     updated_at = NOW(),
		     state = CASE WHEN $3 > 0 AND failure_count + 1 >= $3 THEN 'failed' ELSE 'pending' END
		 WHERE id = $1 AND state = 'sending'
		 RETURNING state`,
		id, truncateError(reason), maxFailures,
	).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.NewAppError(types.ErrCodeConflictConcurrent, "delivery record is not claimed", nil)
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to release delivery record", err)
	}
	return types.DeliveryState(state), nil
}

// Requeue returns a claimed record to pending without counting a failure.
// The dispatcher uses it when the send never reached the provider, such as
// an open circuit or a rate limit.
func (r *DeliveryRepository) Requeue(ctx context.Context, id string, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_records
		 SET state = 'pending', last_error = $2, claimed_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND state = 'sending'`,
		id, truncateError(reason),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to requeue delivery record", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictConcurrent, "delivery record is not claimed", nil)
	}
	return nil
}

// ReleaseStaleClaims returns records stuck in sending since before olderThan
// to pending. A dispatcher that crashed between Claim and MarkSent leaves
// such rows behind.
func (r *DeliveryRepository) ReleaseStaleClaims(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_records
		 SET state = 'pending', claimed_at = NULL, updated_at = NOW()
		 WHERE state = 'sending' AND claimed_at < $1`,
		olderThan.UTC(),
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to release stale claims", err)
	}
	return tag.RowsAffected(), nil
}

// SkipPendingForApplicant skips every pending record addressed to the
// applicant within the tenant. Safe to repeat.
func (r *DeliveryRepository) SkipPendingForApplicant(ctx context.Context, tenantID, applicantID string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_records
		 SET state = 'skipped', updated_at = NOW()
		 WHERE tenant_id = $1 AND applicant_id = $2 AND state = 'pending'`,
		tenantID, applicantID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to skip records for applicant", err)
	}
	return tag.RowsAffected(), nil
}

// SkipPendingForApplication skips every pending record of one application.
// Safe to repeat.
func (r *DeliveryRepository) SkipPendingForApplication(ctx context.Context, applicationID string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_records
		 SET state = 'skipped', updated_at = NOW()
		 WHERE application_id = $1 AND state = 'pending'`,
		applicationID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to skip records for application", err)
	}
	return tag.RowsAffected(), nil
}

func collectDeliveries(rows pgx.Rows) ([]*types.DeliveryRecord, error) {
	defer rows.Close()

	var out []*types.DeliveryRecord
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan delivery record", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate delivery records", err)
	}
	return out, nil
}

func scanDelivery(row pgx.Row) (*types.DeliveryRecord, error) {
	var (
		rec       types.DeliveryRecord
		category  string
		state     string
		lastError *string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.ApplicationID,
		&rec.ApplicantID,
		&rec.TenantID,
		&category,
		&rec.Kind,
		&rec.FireAt,
		&rec.Body,
		&state,
		&rec.SentAt,
		&rec.Suppressed,
		&rec.FailureCount,
		&lastError,
		&rec.ClaimedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Category = types.DeliveryCategory(category)
	rec.State = types.DeliveryState(state)
	if lastError != nil {
		rec.LastError = *lastError
	}
	return &rec, nil
}

const maxErrorLen = 1000

func truncateError(s string) string {
	if len(s) <= maxErrorLen {
		return s
	}
	return s[:maxErrorLen]
}

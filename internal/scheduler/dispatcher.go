package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"eventbell/internal/types"
)

// Dispatcher defaults.
const (
	MaxDispatchBatch   = 100
	DefaultMaxFailures = 5
	DefaultClaimLease  = 15 * time.Minute
)

// DeliveryRepo is the Delivery Record Store as the dispatcher uses it.
type DeliveryRepo interface {
	ReleaseStaleClaims(ctx context.Context, olderThan time.Time) (int64, error)
	ListDue(ctx context.Context, category types.DeliveryCategory, now time.Time, limit int) ([]*types.DeliveryRecord, error)
	// Claim moves a record from pending to sending; false means another
	// actor changed it first.
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time, suppressed bool) error
	// Release returns a claimed record to pending, or to failed once it has
	// failed maxFailures times, and reports the resulting state.
	Release(ctx context.Context, id string, reason string, maxFailures int) (types.DeliveryState, error)
	// Requeue returns a claimed record to pending without counting a
	// failure.
	Requeue(ctx context.Context, id string, reason string) error
}

// ApplicantRepo looks up the recipient of a record.
type ApplicantRepo interface {
	Get(ctx context.Context, tenantID, chatUserID string) (*types.Applicant, error)
}

// CredentialResolver resolves the credentials to send a tenant's messages
// with. It never fails; it falls back to the system defaults.
type CredentialResolver interface {
	ResolveOrDefault(ctx context.Context, tenantID string) *types.TenantCredentials
}

// DispatchInput is the input of one dispatcher run.
type DispatchInput struct {
	Limit         int        `json:"limit"`
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// CategoryResult counts the outcomes of one category in a run.
type CategoryResult struct {
	Due        int `json:"due"`
	Sent       int `json:"sent"`
	Suppressed int `json:"suppressed"`
	Released   int `json:"released"`
	Failed     int `json:"failed"`
	Deferred   int `json:"deferred"`
	ClaimLost  int `json:"claim_lost"`
	Errors     int `json:"errors"`
}

// DispatchResult summarizes a dispatcher run.
type DispatchResult struct {
	ReferenceTime time.Time                                  `json:"reference_time"`
	StaleReleased int64                                      `json:"stale_released"`
	Halted        bool                                       `json:"halted,omitempty"`
	Categories    map[types.DeliveryCategory]*CategoryResult `json:"categories"`
}

// Processed returns the number of records that reached a decision in the run.
func (r DispatchResult) Processed() int {
	n := 0
	for _, c := range r.Categories {
		n += c.Sent + c.Suppressed + c.Released + c.Failed + c.Deferred
	}
	return n
}

// Dispatcher sends due Delivery Records. A run processes records one at a
// time; overlapping runs are safe because every record is claimed before it
// is sent.
type Dispatcher struct {
	deliveries  DeliveryRepo
	applicants  ApplicantRepo
	credentials CredentialResolver
	messenger   types.Messenger
	metrics     Metrics
	clock       types.Clock
	logger      *slog.Logger

	batchLimit  int
	maxFailures int
	claimLease  time.Duration
}

// DispatcherConfig holds the dependencies and tuning of a Dispatcher.
type DispatcherConfig struct {
	Deliveries  DeliveryRepo
	Applicants  ApplicantRepo
	Credentials CredentialResolver
	Messenger   types.Messenger
	Metrics     Metrics
	Clock       types.Clock
	Logger      *slog.Logger

	BatchLimit  int
	MaxFailures int
	ClaimLease  time.Duration
}

// NewDispatcher creates a Dispatcher, applying defaults for zero settings.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		deliveries:  cfg.Deliveries,
		applicants:  cfg.Applicants,
		credentials: cfg.Credentials,
		messenger:   cfg.Messenger,
		metrics:     cfg.Metrics,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		batchLimit:  cfg.BatchLimit,
		maxFailures: cfg.MaxFailures,
		claimLease:  cfg.ClaimLease,
	}
	if d.metrics == nil {
		d.metrics = NoopMetrics{}
	}
	if d.clock == nil {
		d.clock = types.RealClock{}
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.batchLimit <= 0 || d.batchLimit > MaxDispatchBatch {
		d.batchLimit = MaxDispatchBatch
	}
	if d.maxFailures <= 0 {
		d.maxFailures = DefaultMaxFailures
	}
	if d.claimLease <= 0 {
		d.claimLease = DefaultClaimLease
	}
	return d
}

// Run performs one dispatch pass over every category.
//
// Listing failures are logged and the remaining categories still run; they
// are returned joined once the pass completes. Per-record failures never
// abort the run. An open messaging circuit does: the records not yet reached
// stay pending for the next run.
func (d *Dispatcher) Run(ctx context.Context, in DispatchInput) (DispatchResult, error) {
	now := d.clock.Now()
	if in.ReferenceTime != nil {
		now = in.ReferenceTime.UTC()
	}
	limit := d.batchLimit
	if in.Limit > 0 && in.Limit < limit {
		limit = in.Limit
	}

	result := DispatchResult{
		ReferenceTime: now,
		Categories:    make(map[types.DeliveryCategory]*CategoryResult, len(types.DeliveryCategories)),
	}

	released, err := d.deliveries.ReleaseStaleClaims(ctx, d.clock.Now().Add(-d.claimLease))
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to release stale claims", "error", err)
	} else if released > 0 {
		d.logger.WarnContext(ctx, "released stale claims", "count", released)
	}
	result.StaleReleased = released

	var listErrs []error
	for _, category := range types.DeliveryCategories {
		cr := &CategoryResult{}
		result.Categories[category] = cr
		if result.Halted {
			continue
		}

		records, err := d.deliveries.ListDue(ctx, category, now, limit)
		if err != nil {
			d.logger.ErrorContext(ctx, "failed to list due records",
				"category", string(category),
				"error", err,
			)
			listErrs = append(listErrs, fmt.Errorf("listing due %s records: %w", category, err))
			continue
		}
		cr.Due = len(records)

		for _, rec := range records {
			if ctx.Err() != nil {
				break
			}
			if err := d.dispatchOne(ctx, rec, cr); errors.Is(err, errCircuitOpen) {
				d.logger.WarnContext(ctx, "messaging circuit open, ending run early",
					"category", string(category),
				)
				result.Halted = true
				break
			}
		}
	}

	d.metrics.RecordDispatch(ctx, result)
	d.logger.InfoContext(ctx, "dispatch run complete",
		"reference_time", now,
		"processed", result.Processed(),
		"stale_released", result.StaleReleased,
		"halted", result.Halted,
	)
	return result, errors.Join(listErrs...)
}

// errCircuitOpen tells Run to stop claiming records.
var errCircuitOpen = errors.New("messaging circuit open")

// dispatchOne settles one record. It returns errCircuitOpen when the
// messenger refused the push without contacting the provider.
func (d *Dispatcher) dispatchOne(ctx context.Context, rec *types.DeliveryRecord, cr *CategoryResult) error {
	log := d.logger.With(
		"record_id", rec.ID,
		"tenant_id", rec.TenantID,
		"kind", rec.Kind,
	)

	claimed, err := d.deliveries.Claim(ctx, rec.ID, d.clock.Now())
	if err != nil {
		log.ErrorContext(ctx, "claim failed", "error", err)
		cr.Errors++
		return nil
	}
	if !claimed {
		log.InfoContext(ctx, "record claimed elsewhere, skipping")
		cr.ClaimLost++
		return nil
	}

	applicant, err := d.applicants.Get(ctx, rec.TenantID, rec.ApplicantID)
	switch {
	case types.HasCode(err, types.ErrCodeNotFoundApplicant):
		log.InfoContext(ctx, "applicant missing, suppressing")
		d.markSent(ctx, log, rec, true, cr)
		return nil
	case err != nil:
		d.release(ctx, log, rec, fmt.Sprintf("applicant lookup: %v", err), cr)
		return nil
	case !applicant.Consent:
		log.InfoContext(ctx, "applicant has not consented, suppressing")
		d.markSent(ctx, log, rec, true, cr)
		return nil
	}

	creds := d.credentials.ResolveOrDefault(ctx, rec.TenantID)
	err = d.messenger.Push(ctx, rec.ApplicantID, rec.Body, creds)
	switch {
	case err == nil:
		d.markSent(ctx, log, rec, false, cr)
	case types.HasCode(err, types.ErrCodeUpstreamCircuitOpen):
		d.requeue(ctx, log, rec, err.Error(), cr)
		return errCircuitOpen
	case types.HasCode(err, types.ErrCodeUpstreamRateLimited):
		d.requeue(ctx, log, rec, err.Error(), cr)
	default:
		d.release(ctx, log, rec, err.Error(), cr)
	}
	return nil
}

// requeue puts the record back without spending its failure budget.
func (d *Dispatcher) requeue(ctx context.Context, log *slog.Logger, rec *types.DeliveryRecord, reason string, cr *CategoryResult) {
	if err := d.deliveries.Requeue(ctx, rec.ID, reason); err != nil {
		log.ErrorContext(ctx, "failed to requeue record", "reason", reason, "error", err)
		cr.Errors++
		return
	}
	log.WarnContext(ctx, "provider unavailable, record deferred", "reason", reason)
	cr.Deferred++
}

func (d *Dispatcher) markSent(ctx context.Context, log *slog.Logger, rec *types.DeliveryRecord, suppressed bool, cr *CategoryResult) {
	if err := d.deliveries.MarkSent(ctx, rec.ID, d.clock.Now(), suppressed); err != nil {
		// The claim expires and the record is retried; a resend is possible.
		log.ErrorContext(ctx, "failed to mark record sent", "suppressed", suppressed, "error", err)
		cr.Errors++
		return
	}
	if suppressed {
		cr.Suppressed++
	} else {
		cr.Sent++
	}
}

func (d *Dispatcher) release(ctx context.Context, log *slog.Logger, rec *types.DeliveryRecord, reason string, cr *CategoryResult) {
	state, err := d.deliveries.Release(ctx, rec.ID, reason, d.maxFailures)
	if err != nil {
		log.ErrorContext(ctx, "failed to release record", "reason", reason, "error", err)
		cr.Errors++
		return
	}
	if state == types.DeliveryFailed {
		log.ErrorContext(ctx, "record failed permanently",
			"reason", reason,
			"max_failures", d.maxFailures,
		)
		cr.Failed++
		return
	}
	log.WarnContext(ctx, "send failed, record returned to pending", "reason", reason)
	cr.Released++
}

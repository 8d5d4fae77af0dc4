package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"eventbell/internal/db"
)

// DefaultRolloverBatch is the number of tenants rolled over per query.
const DefaultRolloverBatch = 50

// UsageStore defines the quota store operations needed by the UsageRollover.
type UsageStore interface {
	// ListEndedPeriods returns tenants whose billing period ended at or
	// before now, oldest first.
	ListEndedPeriods(ctx context.Context, now time.Time, limit int) ([]db.UsagePeriod, error)

	// ResetPeriod zeroes the per-period counters and moves the period
	// forward. It reports false if the row no longer ends at prevEnd.
	ResetPeriod(ctx context.Context, tenantID string, prevEnd, newStart, newEnd time.Time) (bool, error)
}

// RolloverResult summarizes a rollover run.
type RolloverResult struct {
	Reset   int `json:"reset"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// UsageRollover resets tenant usage counters when their monthly billing
// period ends. The events counter is a gauge of live events and is kept.
type UsageRollover struct {
	store     UsageStore
	batchSize int
	logger    *slog.Logger
}

// NewUsageRollover creates a new UsageRollover.
func NewUsageRollover(store UsageStore, logger *slog.Logger) *UsageRollover {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageRollover{
		store:     store,
		batchSize: DefaultRolloverBatch,
		logger:    logger,
	}
}

// Run processes every tenant whose period ended at or before now.
//
// A tenant that fails to reset is logged and left for the next run. The
// loop ends when a batch is empty or makes no progress, so a persistently
// failing tenant cannot pin the run.
func (u *UsageRollover) Run(ctx context.Context, now time.Time) (RolloverResult, error) {
	var result RolloverResult

	for {
		periods, err := u.store.ListEndedPeriods(ctx, now, u.batchSize)
		if err != nil {
			return result, fmt.Errorf("listing ended usage periods: %w", err)
		}
		if len(periods) == 0 {
			break
		}

		progressed := false
		for _, p := range periods {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			newStart, newEnd := NextPeriod(p.PeriodEnd, now)
			ok, err := u.store.ResetPeriod(ctx, p.TenantID, p.PeriodEnd, newStart, newEnd)
			if err != nil {
				u.logger.ErrorContext(ctx, "failed to roll over usage period",
					"tenant_id", p.TenantID,
					"period_end", p.PeriodEnd,
					"error", err,
				)
				result.Failed++
				continue
			}
			progressed = true
			if !ok {
				// Rolled over by a concurrent run.
				result.Skipped++
				continue
			}
			result.Reset++
		}

		if !progressed || len(periods) < u.batchSize {
			break
		}
	}

	u.logger.InfoContext(ctx, "usage rollover complete",
		"reset", result.Reset,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

// NextPeriod returns the first monthly period starting at or after prevEnd
// whose end lies after now. Periods missed while nothing ran are skipped.
func NextPeriod(prevEnd, now time.Time) (time.Time, time.Time) {
	prevEnd = prevEnd.UTC()
	for i := 0; ; i++ {
		start := prevEnd.AddDate(0, i, 0)
		end := prevEnd.AddDate(0, i+1, 0)
		if end.After(now) {
			return start, end
		}
	}
}

var _ UsageStore = (*db.QuotaRepository)(nil)

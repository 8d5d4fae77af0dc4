package core

import (
	"context"
	"time"
)

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// HealthProbe checks one critical dependency for GET /health.
type HealthProbe interface {
	// Name identifies the probe in the response (e.g. "database").
	Name() string

	// Check should respect the context deadline.
	Check(ctx context.Context) error
}

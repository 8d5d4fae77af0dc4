package core

import (
	"context"
	"sync"
	"time"
)

// MockHealthProbe is a HealthProbe for tests. CheckFunc, when set, overrides
// Err.
type MockHealthProbe struct {
	ProbeName string
	Err       error
	CheckFunc func(ctx context.Context) error
}

func (m *MockHealthProbe) Name() string { return m.ProbeName }

func (m *MockHealthProbe) Check(ctx context.Context) error {
	if m.CheckFunc != nil {
		return m.CheckFunc(ctx)
	}
	return m.Err
}

// RecordedRequest is one call to MockMetricsCollector.RecordRequest.
type RecordedRequest struct {
	Method   string
	Endpoint string
	Status   string
	Duration time.Duration
}

// MockMetricsCollector records requests for assertions.
type MockMetricsCollector struct {
	mu    sync.Mutex
	Calls []RecordedRequest
}

func (m *MockMetricsCollector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, RecordedRequest{method, endpoint, status, duration})
}

var (
	_ HealthProbe      = (*MockHealthProbe)(nil)
	_ MetricsCollector = (*MockMetricsCollector)(nil)
)

package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func runHealth(t *testing.T, probes ...HealthProbe) (*httptest.ResponseRecorder, healthResponse) {
	t.Helper()
	srv := newTestServer(t)
	srv.HealthProbes = probes

	w := httptest.NewRecorder()
	srv.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return w, body
}

func TestHandleHealth_NoProbes(t *testing.T) {
	w, body := runHealth(t)
	if w.Code != http.StatusOK || body.Status != "healthy" {
		t.Errorf("got %d %+v", w.Code, body)
	}
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	w, body := runHealth(t, &MockHealthProbe{ProbeName: "database"})
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if body.Components["database"].Status != "healthy" {
		t.Errorf("unexpected components %+v", body.Components)
	}
}

func TestHandleHealth_OneUnhealthy(t *testing.T) {
	w, body := runHealth(t,
		&MockHealthProbe{ProbeName: "database", Err: errors.New("connection refused")},
		&MockHealthProbe{ProbeName: "messaging"},
	)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
	if c := body.Components["database"]; c.Status != "unhealthy" || c.Message != "connection refused" {
		t.Errorf("unexpected database status %+v", c)
	}
	if body.Components["messaging"].Status != "healthy" {
		t.Errorf("unexpected messaging status %+v", body.Components["messaging"])
	}
}

func TestHandleHealth_ProbePanic(t *testing.T) {
	w, body := runHealth(t, &MockHealthProbe{
		ProbeName: "database",
		CheckFunc: func(context.Context) error { panic("boom") },
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
	if body.Components["database"].Status != "unhealthy" {
		t.Errorf("panicking probe must be unhealthy")
	}
}

func TestHandleHealth_Timeout(t *testing.T) {
	start := time.Now()
	w, body := runHealth(t, &MockHealthProbe{
		ProbeName: "slow",
		CheckFunc: func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return nil
		},
	})
	if time.Since(start) > healthCheckTimeout+time.Second {
		t.Errorf("health check did not respect its timeout")
	}
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
	if body.Components["slow"].Message != "health check timed out" {
		t.Errorf("unexpected slow status %+v", body.Components["slow"])
	}
}

package types

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
)

func TestWithRequestID_GetRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-abc-123")
	if got := GetRequestID(ctx); got != "req-abc-123" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-abc-123")
	}

	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q, want empty", got)
	}
}

func TestWithTenantID_GetTenantID(t *testing.T) {
	ctx := WithTenantID(context.Background(), "tenant_1")
	if got := GetTenantID(ctx); got != "tenant_1" {
		t.Errorf("GetTenantID() = %q, want %q", got, "tenant_1")
	}
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	stored := slog.New(slog.NewJSONHandler(&buf, nil))
	fallback := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))

	t.Run("returns stored logger", func(t *testing.T) {
		ctx := WithLogger(context.Background(), stored)
		if got := LoggerFromContext(ctx, fallback); got != stored {
			t.Error("expected the stored logger")
		}
	})

	t.Run("returns fallback when unset", func(t *testing.T) {
		if got := LoggerFromContext(context.Background(), fallback); got != fallback {
			t.Error("expected the fallback logger")
		}
	})

	t.Run("returns default when unset and no fallback", func(t *testing.T) {
		if got := LoggerFromContext(context.Background(), nil); got != slog.Default() {
			t.Error("expected slog.Default()")
		}
	})
}

func TestContextValues_DoNotInterfere(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithTenantID(ctx, "tenant_1")

	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("GetRequestID() = %q, want req-1", got)
	}
	if got := GetTenantID(ctx); got != "tenant_1" {
		t.Errorf("GetTenantID() = %q, want tenant_1", got)
	}
}

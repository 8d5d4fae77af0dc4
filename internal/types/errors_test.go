package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

// TestAppErrorImplementsError verifies that *AppError satisfies the error interface.
func TestAppErrorImplementsError(t *testing.T) {
	var _ error = (*AppError)(nil)
}

func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeConflictSlotFull,
		Message: "slot is full",
		Err:     errors.New("capacity 20 reached"),
	}

	expected := "conflict_slot_full: slot is full"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("database connection failed")
	appErr := NewAppError(ErrCodeInternalDB, "failed to list due records", underlying)

	if appErr.Unwrap() != underlying {
		t.Errorf("Unwrap() = %v, want %v", appErr.Unwrap(), underlying)
	}
	if !errors.Is(appErr, underlying) {
		t.Error("errors.Is should find the underlying error through Unwrap")
	}
}

func TestAppErrorErrorsAs(t *testing.T) {
	appErr := NewAppError(ErrCodeLimitApplications, "monthly application limit reached", nil)
	wrapped := fmt.Errorf("register: %w", appErr)

	var target *AppError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should find AppError in the chain")
	}
	if target.Code != ErrCodeLimitApplications {
		t.Errorf("Code = %q, want %q", target.Code, ErrCodeLimitApplications)
	}
}

func TestHasCode(t *testing.T) {
	appErr := NewAppError(ErrCodeConflictDuplicate, "already registered", nil)
	wrapped := fmt.Errorf("register: %w", appErr)

	if !HasCode(wrapped, ErrCodeConflictDuplicate) {
		t.Error("HasCode should match through wrapping")
	}
	if HasCode(wrapped, ErrCodeConflictSlotFull) {
		t.Error("HasCode should not match a different code")
	}
	if HasCode(errors.New("plain"), ErrCodeConflictDuplicate) {
		t.Error("HasCode should not match a plain error")
	}
	if HasCode(nil, ErrCodeConflictDuplicate) {
		t.Error("HasCode should not match nil")
	}
}

func TestAppErrorWithDetails(t *testing.T) {
	original := NewAppErrorWithDetails(
		ErrCodeValidationInvalidField,
		"invalid field",
		nil,
		map[string]any{"field": "slot_time"},
	)

	enhanced := original.WithDetails(map[string]any{"reason": "must be in the future"})

	if _, ok := original.Details["reason"]; ok {
		t.Error("WithDetails should not mutate the original error")
	}
	if enhanced.Details["field"] != "slot_time" {
		t.Errorf("enhanced should retain original detail: field = %v", enhanced.Details["field"])
	}
	if enhanced.Details["reason"] != "must be in the future" {
		t.Errorf("enhanced should have new detail: reason = %v", enhanced.Details["reason"])
	}
	if enhanced.Code != original.Code || enhanced.Message != original.Message {
		t.Error("Code and Message should carry over")
	}
}

func TestAppErrorWithDetailsNilOriginal(t *testing.T) {
	enhanced := NewAppError(ErrCodeNotFoundTenant, "not found", nil).
		WithDetails(map[string]any{"tenant_id": "tenant_1"})

	if enhanced.Details["tenant_id"] != "tenant_1" {
		t.Errorf("tenant_id = %v", enhanced.Details["tenant_id"])
	}
}

func TestErrorCodeHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{ErrCodeValidationMissingField, http.StatusBadRequest},
		{ErrCodeValidationInvalidField, http.StatusBadRequest},
		{ErrCodeValidationTimeOfDay, http.StatusBadRequest},
		{ErrCodeValidationSlotInPast, http.StatusBadRequest},
		{ErrCodeValidationSignature, http.StatusBadRequest},

		{ErrCodeLimitApplications, http.StatusForbidden},
		{ErrCodeRateLimit, http.StatusTooManyRequests},
		{ErrCodeValidationTimezone, http.StatusBadRequest},

		{ErrCodeNotFoundTenant, http.StatusNotFound},
		{ErrCodeNotFoundApplicant, http.StatusNotFound},
		{ErrCodeNotFoundApplication, http.StatusNotFound},
		{ErrCodeNotFoundDelivery, http.StatusNotFound},
		{ErrCodeNotFoundCredentials, http.StatusNotFound},

		{ErrCodeConflictDuplicate, http.StatusConflict},
		{ErrCodeConflictSlotFull, http.StatusConflict},
		{ErrCodeConflictConcurrent, http.StatusConflict},

		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrCodeInternalUnexpected, http.StatusInternalServerError},

		{ErrCodeUpstreamMessaging, http.StatusBadGateway},
		{ErrCodeUpstreamUnauthorized, http.StatusBadGateway},
		{ErrCodeUpstreamRejected, http.StatusBadGateway},
		{ErrCodeUpstreamRateLimited, http.StatusBadGateway},
		{ErrCodeUpstreamCircuitOpen, http.StatusBadGateway},

		{ErrorCode("totally_unknown_error"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("ErrorCode(%q).HTTPStatus() = %d, want %d", tt.code, got, tt.wantStatus)
			}
		})
	}
}

func TestAppErrorHTTPStatus(t *testing.T) {
	appErr := NewAppError(ErrCodeConflictDuplicate, "duplicate", nil)
	if appErr.HTTPStatus() != http.StatusConflict {
		t.Errorf("HTTPStatus() = %d, want %d", appErr.HTTPStatus(), http.StatusConflict)
	}
}

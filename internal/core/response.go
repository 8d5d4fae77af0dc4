package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"eventbell/internal/types"
)

// DefaultMaxBodyBytes bounds request bodies when neither the server config
// nor BodyLimitMiddleware sets a limit.
const DefaultMaxBodyBytes int64 = 1 << 20

type bodyLimitKey struct{}

// bodyLimit returns the limit installed by BodyLimitMiddleware, or
// DefaultMaxBodyBytes.
func bodyLimit(r *http.Request) int64 {
	if n, ok := r.Context().Value(bodyLimitKey{}).(int64); ok && n > 0 {
		return n
	}
	return DefaultMaxBodyBytes
}

// APIErrorResponse is the envelope of every non-2xx JSON response:
//
//	{"error": {"code": "...", "message": "...", "details": {...}, "request_id": "..."}}
//
// Handlers never build it themselves; they pass an error to Error.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the client-visible part of an error. Code is a stable
// machine-readable identifier such as "conflict_slot_full"; Message is for
// humans and may change. Details carries structured context (the offending
// field, the limit that was hit) and is omitted when empty. RequestID echoes
// the X-Request-Id header so a report can be matched to the server log.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON marshals data and writes it with status and a JSON content type.
//
// The body is marshalled before any header is written, so a value that
// cannot be encoded still produces a well-formed 500 envelope instead of a
// truncated 2xx response.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		types.LoggerFromContext(r.Context(), nil).Error("failed to marshal response",
			slog.String("error", err.Error()),
		)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(APIErrorResponse{
			Error: ErrorDetail{
				Code:      string(types.ErrCodeInternalUnexpected),
				Message:   "failed to marshal response",
				RequestID: types.GetRequestID(r.Context()),
			},
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error renders err as the error envelope.
//
// The first *types.AppError in the chain decides the response: its code
// maps to the status, and its message and details are copied verbatim.
// Any other error is reported as internal_unexpected with a fixed message,
// so driver or network text never leaks to clients.
//
// Responses of 500 and above are also logged with the request-scoped
// logger, including the wrapped cause. Client errors are not logged here;
// RequestLogger already records their status.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	detail := ErrorDetail{
		Code:      string(types.ErrCodeInternalUnexpected),
		Message:   "an unexpected error occurred",
		RequestID: types.GetRequestID(r.Context()),
	}
	status := http.StatusInternalServerError

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		status = appErr.HTTPStatus()
		detail.Code = string(appErr.Code)
		detail.Message = appErr.Message
		detail.Details = appErr.Details
	}

	if status >= http.StatusInternalServerError {
		types.LoggerFromContext(r.Context(), nil).Error("request failed",
			slog.String("code", detail.Code),
			slog.String("error", errorText(err)),
		)
	}

	JSON(w, r, status, APIErrorResponse{Error: detail})
}

func errorText(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

// DecodeJSON decodes exactly one JSON object from the request body into dst.
//
// The body is capped at the limit installed by BodyLimitMiddleware
// (DefaultMaxBodyBytes without it). Decoding is strict; each of these
// failures is returned as a validation_invalid_json AppError:
//
//   - the body exceeds the limit (details carry limit_bytes)
//   - the body is empty
//   - the JSON is malformed
//   - a value has the wrong type for its field (details carry field and expected)
//   - the object has a field dst does not declare
//   - a second value follows the first object
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit(r))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return mapDecodeError(err)
	}

	if dec.More() {
		return types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"request body must contain a single JSON object",
			nil,
		)
	}

	return nil
}

func mapDecodeError(err error) *types.AppError {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidJSON,
			fmt.Sprintf("request body must not exceed %d bytes", maxBytesErr.Limit),
			err,
			map[string]any{"limit_bytes": maxBytesErr.Limit},
		)
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidJSON,
			"malformed JSON in request body",
			err,
			map[string]any{"offset": syntaxErr.Offset},
		)
	}

	var unmarshalTypeErr *json.UnmarshalTypeError
	if errors.As(err, &unmarshalTypeErr) {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidJSON,
			"invalid value for field",
			err,
			map[string]any{
				"field":    unmarshalTypeErr.Field,
				"expected": unmarshalTypeErr.Type.String(),
			},
		)
	}

	// encoding/json reports unknown fields only through the message text.
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidJSON,
			"unknown field in request body: "+field,
			err,
			map[string]any{"field": strings.Trim(field, `"`)},
		)
	}

	if errors.Is(err, io.EOF) {
		return types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"request body must not be empty",
			err,
		)
	}

	return types.NewAppError(
		types.ErrCodeValidationInvalidJSON,
		"invalid JSON in request body",
		err,
	)
}

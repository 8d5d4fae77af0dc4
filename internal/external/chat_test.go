package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"eventbell/internal/types"
)

func newTestChatClient(baseURL string, rec *sleepRecorder) *ChatClient {
	return NewChatClient(ChatClientConfig{
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
		Retry:   DefaultRetryPolicy(),
	}, WithSleepFunc(rec.sleep))
}

var testCreds = &types.TenantCredentials{TenantID: "t1", ChannelToken: "tok-abc"}

func TestSend_Request(t *testing.T) {
	var (
		gotPath, gotAuth, gotCT string
		gotBody                 pushRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestChatClient(server.URL+"/", &sleepRecorder{})
	if err := c.Send(context.Background(), "U123", "hello", testCreds); err != nil {
		t.Fatal(err)
	}

	if gotPath != "/v2/bot/message/push" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok-abc" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotCT != "application/json" {
		t.Errorf("Content-Type = %q", gotCT)
	}
	if gotBody.To != "U123" || len(gotBody.Messages) != 1 || gotBody.Messages[0].Type != "text" || gotBody.Messages[0].Text != "hello" {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestSend_MissingTokenMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	c := newTestChatClient(server.URL, &sleepRecorder{})
	for _, creds := range []*types.TenantCredentials{nil, {TenantID: "t1"}} {
		err := c.Push(context.Background(), "U1", "hi", creds)
		if !types.HasCode(err, types.ErrCodeUpstreamUnauthorized) {
			t.Errorf("err = %v", err)
		}
	}
	if calls.Load() != 0 {
		t.Errorf("server called %d times", calls.Load())
	}
}

func TestSend_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   types.ErrorCode
	}{
		{http.StatusUnauthorized, types.ErrCodeUpstreamUnauthorized},
		{http.StatusForbidden, types.ErrCodeUpstreamUnauthorized},
		{http.StatusBadRequest, types.ErrCodeUpstreamRejected},
		{http.StatusInternalServerError, types.ErrCodeUpstreamMessaging},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			err := newTestChatClient(server.URL, &sleepRecorder{}).Send(context.Background(), "U1", "hi", testCreds)
			if !types.HasCode(err, tt.want) {
				t.Errorf("err = %v, want %s", err, tt.want)
			}
		})
	}
}

// A provider that fails twice then succeeds: three calls, increasing waits.
func TestSendWithRetry_FailsTwiceThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rec := &sleepRecorder{}
	err := newTestChatClient(server.URL, rec).SendWithRetry(context.Background(), "U1", "hi", testCreds, 3)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
	if len(rec.waits) != 2 || rec.waits[0] != time.Second || rec.waits[1] != 2*time.Second {
		t.Errorf("waits = %v, want [1s 2s]", rec.waits)
	}
}

func TestSendWithRetry_ExhaustedReturnsLastError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := newTestChatClient(server.URL, &sleepRecorder{}).Push(context.Background(), "U1", "hi", testCreds)
	if !types.HasCode(err, types.ErrCodeUpstreamMessaging) {
		t.Fatalf("err = %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestSendWithRetry_RejectedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := newTestChatClient(server.URL, &sleepRecorder{}).Push(context.Background(), "U1", "hi", testCreds)
	if !types.HasCode(err, types.ErrCodeUpstreamRejected) || calls.Load() != 1 {
		t.Errorf("err=%v calls=%d", err, calls.Load())
	}
}

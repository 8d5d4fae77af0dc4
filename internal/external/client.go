// Package external is the boundary between the engine and third-party APIs.
// Outbound HTTP goes through BaseClient, which applies the circuit breaker,
// outbound pacing, request tracing and error mapping in one place.
package external

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"eventbell/internal/types"
)

// RetryPolicy configures Retry. Waits start at BaseWait and double per
// attempt, capped at MaxWait.
type RetryPolicy struct {
	MaxAttempts int
	BaseWait    time.Duration
	MaxWait     time.Duration
}

// DefaultRetryPolicy returns the defaults for chat pushes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseWait:    time.Second,
		MaxWait:     30 * time.Second,
	}
}

// BaseClient wraps an *http.Client with a circuit breaker and an optional
// rate limiter. Do performs exactly one attempt; Retry wraps an operation in
// the retry policy.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	limiter     *rate.Limiter
	retryPolicy RetryPolicy
	userAgent   string
	sleepFn     func(context.Context, time.Duration) error
}

// BaseClientOption is a functional option for configuring a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc overrides the wait between retries. Tests use it to record
// delays without sleeping.
func WithSleepFunc(fn func(context.Context, time.Duration) error) BaseClientOption {
	return func(c *BaseClient) {
		c.sleepFn = fn
	}
}

// WithRateLimit paces outbound requests to perSecond. The burst equals the
// whole-number rate (at least 1). Non-positive values disable pacing.
func WithRateLimit(perSecond float64) BaseClientOption {
	return func(c *BaseClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) BaseClientOption {
	return func(c *BaseClient) {
		c.breaker = cb
	}
}

// NewBaseClient creates a BaseClient.
func NewBaseClient(
	httpClient *http.Client,
	breakerName string,
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	if retryPolicy.MaxAttempts < 1 {
		retryPolicy.MaxAttempts = 1
	}
	bc := &BaseClient{
		client:      httpClient,
		breaker:     newBreaker(breakerName),
		retryPolicy: retryPolicy,
		userAgent:   userAgent,
		sleepFn:     sleepContext,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

func newBreaker(name string) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
}

// Do executes one attempt of req. Responses below 500 other than 429 are
// returned as-is and the caller closes the body. Network failures, 429 and
// 5xx are returned as AppErrors whose codes IsRetryable recognizes.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamMessaging, "outbound rate limiter wait aborted", err)
		}
	}
	if reqID := types.GetRequestID(ctx); reqID != "" {
		req.Header.Set("X-Request-Id", reqID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, doErr := c.client.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			return r, fmt.Errorf("upstream returned %d", r.StatusCode)
		}
		return r, nil
	})
	if err == nil {
		return resp, nil
	}
	if resp != nil {
		resp.Body.Close()
	}
	return nil, mapError(resp, err)
}

// Retry runs op until it succeeds, returns a non-retryable error, or the
// policy's attempts are used up. It returns the last error.
func (c *BaseClient) Retry(ctx context.Context, maxAttempts int, op func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = c.retryPolicy.MaxAttempts
	}
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt == maxAttempts || !IsRetryable(err) {
			break
		}
		if sleepErr := c.sleepFn(ctx, c.computeBackoff(attempt, err)); sleepErr != nil {
			break
		}
	}
	return err
}

// computeBackoff returns the wait after the given 1-based attempt. A
// Retry-After hint carried by err wins when present.
func (c *BaseClient) computeBackoff(attempt int, err error) time.Duration {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		if hint, ok := appErr.Details["retry_after"].(time.Duration); ok && hint > 0 {
			return min(hint, c.retryPolicy.MaxWait)
		}
	}
	wait := c.retryPolicy.BaseWait << (attempt - 1)
	if wait <= 0 || wait > c.retryPolicy.MaxWait {
		wait = c.retryPolicy.MaxWait
	}
	return wait
}

// IsRetryable reports whether err is a transient upstream failure.
func IsRetryable(err error) bool {
	return types.HasCode(err, types.ErrCodeUpstreamMessaging) || types.HasCode(err, types.ErrCodeUpstreamRateLimited)
}

// mapError translates a failed attempt into an AppError.
func mapError(resp *http.Response, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeUpstreamCircuitOpen, "circuit breaker is open; upstream unavailable", err)
	}
	if resp != nil {
		if resp.StatusCode == http.StatusTooManyRequests {
			appErr := types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
			if wait := parseRetryAfter(resp.Header.Get("Retry-After")); wait > 0 {
				appErr.Details = map[string]any{"retry_after": wait}
			}
			return appErr
		}
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamMessaging,
			fmt.Sprintf("upstream returned %d", resp.StatusCode), err,
			map[string]any{"status": resp.StatusCode})
	}
	return types.NewAppError(types.ErrCodeUpstreamMessaging, "upstream request failed", err)
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if wait := time.Until(t); wait > 0 {
			return wait
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

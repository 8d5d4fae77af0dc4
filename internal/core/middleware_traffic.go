package core

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"eventbell/internal/types"
)

// limiterIdleTTL is how long an unused tenant limiter is kept.
const limiterIdleTTL = 10 * time.Minute

type tenantLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TenantRateLimiter keeps one token bucket per tenant, in process memory.
// Each API instance enforces its own budget.
type TenantRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*tenantLimiter
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewTenantRateLimiter allows perSecond requests per tenant with the given
// burst (at least 1).
func NewTenantRateLimiter(perSecond float64, burst int) *TenantRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &TenantRateLimiter{
		limiters: make(map[string]*tenantLimiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow consumes one token for tenantID. When denied it also returns how
// long until a token is available.
func (l *TenantRateLimiter) Allow(tenantID string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictIdle(now)

	tl, ok := l.limiters[tenantID]
	if !ok {
		tl = &tenantLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[tenantID] = tl
	}
	tl.lastSeen = now

	r := tl.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (l *TenantRateLimiter) evictIdle(now time.Time) {
	for id, tl := range l.limiters {
		if now.Sub(tl.lastSeen) > limiterIdleTTL {
			delete(l.limiters, id)
		}
	}
}

// TenantRateLimit limits requests per {tenantID} URL parameter. It must be
// mounted on a route that declares the parameter. A nil limiter passes
// through.
func (s *Server) TenantRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantID")
		if s.RateLimiter == nil || tenantID == "" {
			next.ServeHTTP(w, r)
			return
		}

		allowed, wait := s.RateLimiter.Allow(tenantID)
		if !allowed {
			retryAfter := int(wait.Round(time.Second).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			s.Logger.WarnContext(r.Context(), "tenant rate limit exceeded",
				"tenant_id", tenantID,
				"method", r.Method,
				"path", r.URL.Path,
			)
			Error(w, r, types.NewAppError(types.ErrCodeRateLimit, "rate limit exceeded, retry later", nil))
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithTenantID(r.Context(), tenantID)))
	})
}

// routePattern returns the matched chi pattern, or the raw path outside a
// chi route. Metrics use it to keep tenant ids out of dimensions.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

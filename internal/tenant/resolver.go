// Package tenant resolves per-tenant messaging credentials.
package tenant

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"eventbell/internal/types"
)

// DefaultCacheTTL is used when the configured TTL is not positive.
const DefaultCacheTTL = time.Minute

// CredentialStore reads stored tenant credentials.
type CredentialStore interface {
	GetCredentials(ctx context.Context, tenantID string) (*types.TenantCredentials, error)
}

// ErrNotConfigured is returned when a tenant has no channel token.
var ErrNotConfigured = types.NewAppError(types.ErrCodeNotFoundCredentials, "tenant messaging credentials not configured", nil)

type cacheEntry struct {
	creds   *types.TenantCredentials
	expires time.Time
}

// Resolver looks up tenant credentials with a short TTL cache. Concurrent
// misses for the same tenant share one store read.
type Resolver struct {
	store    CredentialStore
	defaults types.TenantCredentials
	ttl      time.Duration
	clock    types.Clock
	logger   *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// ResolverConfig holds the dependencies of a Resolver.
type ResolverConfig struct {
	Store CredentialStore
	// Defaults are the system credentials used when a tenant's own cannot be
	// resolved.
	Defaults types.TenantCredentials
	TTL      time.Duration
	Clock    types.Clock
	Logger   *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	r := &Resolver{
		store:    cfg.Store,
		defaults: cfg.Defaults,
		ttl:      cfg.TTL,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		cache:    make(map[string]cacheEntry),
	}
	if r.ttl <= 0 {
		r.ttl = DefaultCacheTTL
	}
	if r.clock == nil {
		r.clock = types.RealClock{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Resolve returns the tenant's credentials. A tenant without a channel token
// yields ErrNotConfigured. Only successful lookups are cached.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (*types.TenantCredentials, error) {
	now := r.clock.Now()

	r.mu.RLock()
	entry, ok := r.cache[tenantID]
	r.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.creds, nil
	}

	v, err, _ := r.group.Do(tenantID, func() (any, error) {
		creds, err := r.store.GetCredentials(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if creds.ChannelToken.IsEmpty() {
			return nil, ErrNotConfigured
		}

		r.mu.Lock()
		r.cache[tenantID] = cacheEntry{creds: creds, expires: r.clock.Now().Add(r.ttl)}
		r.mu.Unlock()
		return creds, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.TenantCredentials), nil
}

// ResolveOrDefault returns the tenant's credentials, or the system defaults
// flagged as a fallback when resolution fails for any reason.
func (r *Resolver) ResolveOrDefault(ctx context.Context, tenantID string) *types.TenantCredentials {
	creds, err := r.Resolve(ctx, tenantID)
	if err == nil {
		return creds
	}
	r.logger.WarnContext(ctx, "credential resolution failed, using default channel",
		"tenant_id", tenantID,
		"error", err,
	)
	fallback := r.defaults
	fallback.TenantID = tenantID
	fallback.Fallback = true
	return &fallback
}

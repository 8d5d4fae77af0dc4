package db

import (
	"context"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PoolProbe reports database reachability for GET /health.
type PoolProbe struct {
	pool Pinger
}

// NewPoolProbe creates a probe over pool.
func NewPoolProbe(pool Pinger) *PoolProbe {
	return &PoolProbe{pool: pool}
}

func (p *PoolProbe) Name() string { return "database" }

func (p *PoolProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

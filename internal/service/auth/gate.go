// Package auth turns a presented API key into an active project.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/payment-aggregator/internal/logger"
	"github.com/jmehdipour/payment-aggregator/internal/metrics"
	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmehdipour/payment-aggregator/internal/service/apikey"
	"go.uber.org/zap"
)

// Resolver maps a key to its project by exact hash match.
type Resolver interface {
	Resolve(ctx context.Context, key string) (*model.Project, error)
}

// Cache holds resolved projects keyed by the key's sha256 hex.
//
// Add must not overwrite an existing entry, revocation markers included.
// Revoke replaces whatever is cached with a marker that Get reports as a
// miss until it expires. Together they keep a lookup that read the row
// before a suspension from caching the stale project after it.
type Cache interface {
	Get(ctx context.Context, keyHash string) (*model.Project, bool, error)
	Add(ctx context.Context, keyHash string, p model.Project, ttl time.Duration) error
	Revoke(ctx context.Context, keyHash string, ttl time.Duration) error
}

type Gate struct {
	resolver Resolver
	cache    Cache
	ttl      time.Duration
	log      *zap.Logger
}

// NewGate builds a gate. cache may be nil.
func NewGate(resolver Resolver, cache Cache, ttl time.Duration, log *zap.Logger) *Gate {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Gate{resolver: resolver, cache: cache, ttl: ttl, log: logger.OrNop(log)}
}

// Authenticate returns the key's project. Unknown keys and suspended
// projects both yield model.ErrUnauthorized with no further detail; storage
// failures are returned as they are.
func (g *Gate) Authenticate(ctx context.Context, key string) (*model.Project, error) {
	if key == "" {
		return nil, g.reject()
	}
	hash := apikey.Hash(key)

	if g.cache != nil {
		p, ok, err := g.cache.Get(ctx, hash)
		if err != nil {
			g.log.Warn("auth cache get failed", zap.Error(err))
		} else if ok {
			return g.admit(p)
		}
	}

	p, err := g.resolver.Resolve(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		return nil, g.reject()
	}
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	if g.cache != nil {
		if err := g.cache.Add(ctx, hash, *p, g.ttl); err != nil {
			g.log.Warn("auth cache set failed", zap.String("project_id", p.ID), zap.Error(err))
		}
	}
	return g.admit(p)
}

func (g *Gate) admit(p *model.Project) (*model.Project, error) {
	if !p.Active() {
		return nil, g.reject()
	}
	return p, nil
}

func (g *Gate) reject() error {
	metrics.AuthFailuresTotal.Inc()
	return model.ErrUnauthorized
}

// Invalidate revokes the cached entry for keyHash for one cache TTL, so
// lookups go to storage until then.
func (g *Gate) Invalidate(ctx context.Context, keyHash string) error {
	if g.cache == nil {
		return nil
	}
	return g.cache.Revoke(ctx, keyHash, g.ttl)
}

// Package apikey issues project API keys and resolves them back to projects.
//
// Keys are 32 random bytes, base64url without padding (43 chars). Only the
// sha256 of a key is stored, so a lookup is an indexed exact match on the
// hash and never a prefix or substring scan.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/jmehdipour/payment-aggregator/internal/metrics"
	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const (
	keyBytes   = 32
	prefixLen  = 8
	defaultMax = 5
)

// Store is the slice of the projects repository the registry needs.
type Store interface {
	APIKeyHashExists(ctx context.Context, hash string) (bool, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*model.Project, error)
	Insert(ctx context.Context, tx *sqlx.Tx, p model.Project) error
}

// Registry generates unique keys and binds them to projects.
type Registry struct {
	store       Store
	maxAttempts int
	rand        io.Reader
	log         *zap.Logger
}

func NewRegistry(store Store, maxAttempts int, log *zap.Logger) *Registry {
	if maxAttempts < 1 {
		maxAttempts = defaultMax
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{store: store, maxAttempts: maxAttempts, rand: rand.Reader, log: log}
}

// Generate returns a fresh random key without checking uniqueness.
func Generate() (string, error) {
	return generate(rand.Reader)
}

func generate(r io.Reader) (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash is the stored form of a key.
func Hash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Prefix is the non-secret part of a key shown back to owners.
func Prefix(key string) string {
	if len(key) <= prefixLen {
		return key
	}
	return key[:prefixLen]
}

// GenerateUniqueKey draws keys until one whose hash is not yet stored,
// giving up with ErrKeyGenerationExhausted after maxAttempts draws.
func (r *Registry) GenerateUniqueKey(ctx context.Context) (string, error) {
	for i := 0; i < r.maxAttempts; i++ {
		key, err := generate(r.rand)
		if err != nil {
			return "", err
		}
		exists, err := r.store.APIKeyHashExists(ctx, Hash(key))
		if err != nil {
			return "", fmt.Errorf("check api key: %w", err)
		}
		if !exists {
			return key, nil
		}
		metrics.APIKeyCollisionsTotal.Inc()
		r.log.Warn("api key collision", zap.Int("attempt", i+1), zap.String("prefix", Prefix(key)))
	}
	return "", model.ErrKeyGenerationExhausted
}

// Bind stores project together with key's hash and prefix. A concurrent
// insert of the same hash fails on the unique index with ErrDuplicateKey.
func (r *Registry) Bind(ctx context.Context, tx *sqlx.Tx, p model.Project, key string) (model.Project, error) {
	p.APIKeyHash = Hash(key)
	p.APIKeyPrefix = Prefix(key)
	if err := r.store.Insert(ctx, tx, p); err != nil {
		return model.Project{}, err
	}
	return p, nil
}

// Resolve maps a presented key to its project, or ErrNotFound.
func (r *Registry) Resolve(ctx context.Context, key string) (*model.Project, error) {
	if key == "" {
		return nil, model.ErrNotFound
	}
	return r.store.GetByAPIKeyHash(ctx, Hash(key))
}

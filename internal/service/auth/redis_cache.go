package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "payagg:auth:"
	revokedMarker    = "revoked"
)

// RedisCache stores resolved projects as JSON under prefix+keyHash.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisCache(rdb *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisCache{rdb: rdb, prefix: prefix}
}

func (c *RedisCache) key(keyHash string) string { return c.prefix + keyHash }

func (c *RedisCache) Get(ctx context.Context, keyHash string) (*model.Project, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(keyHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if string(raw) == revokedMarker {
		return nil, false, nil
	}
	p, err := decodeProject(raw, keyHash)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// Add caches p with SET NX; an existing entry or revocation marker wins.
func (c *RedisCache) Add(ctx context.Context, keyHash string, p model.Project, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.rdb.SetNX(ctx, c.key(keyHash), raw, ttl).Err()
}

func (c *RedisCache) Revoke(ctx context.Context, keyHash string, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.key(keyHash), revokedMarker, ttl).Err()
}

// decodeProject restores a cached project. The hash is not serialized, so
// it is put back from the cache key.
func decodeProject(raw []byte, keyHash string) (*model.Project, error) {
	var p model.Project
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	p.APIKeyHash = keyHash
	return &p, nil
}

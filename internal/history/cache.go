package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/freelance-escrow/backend/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "escrow:history:"

// CacheData is the persisted per-identity history record. It survives across
// sessions; freshness is judged against LastFetch, not a key TTL, so stale
// data stays servable when a scan fails.
type CacheData struct {
	History       []models.HistoricalRecord `json:"history"`
	LastFetch     time.Time                 `json:"last_fetch"`
	LastSignature string                    `json:"last_signature"`
}

// CacheStore is the externally-owned cache keyed by identity. Writes are
// last-writer-wins; only one reconstruction task runs per identity at a time.
type CacheStore interface {
	Load(ctx context.Context, identity string) (*CacheData, error)
	Save(ctx context.Context, identity string, data *CacheData) error
	Clear(ctx context.Context, identity string) error
}

type RedisCache struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisCache(client *redis.Client, log *zap.Logger) *RedisCache {
	return &RedisCache{client: client, log: log}
}

func (c *RedisCache) Load(ctx context.Context, identity string) (*CacheData, error) {
	raw, err := c.client.Get(ctx, cacheKeyPrefix+identity).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var data CacheData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		c.log.Warn("discarding corrupt history cache", zap.String("identity", identity), zap.Error(err))
		return nil, nil
	}
	return &data, nil
}

func (c *RedisCache) Save(ctx context.Context, identity string, data *CacheData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKeyPrefix+identity, raw, 0).Err()
}

func (c *RedisCache) Clear(ctx context.Context, identity string) error {
	return c.client.Del(ctx, cacheKeyPrefix+identity).Err()
}

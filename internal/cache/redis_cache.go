package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/whatsapp-assistant/internal/model"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type outcomeValue struct {
	Status model.Status `json:"status"`
	At     time.Time    `json:"at"`
	Error  string       `json:"error,omitempty"`
}

func outcomeKey(id string) string {
	return fmt.Sprintf("schedule:%s", id)
}

func (c *RedisCache) StoreOutcome(ctx context.Context, id string, status model.Status, at time.Time, reason string) error {
	b, err := json.Marshal(outcomeValue{
		Status: status,
		At:     at.UTC(),
		Error:  reason,
	})
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, outcomeKey(id), b, c.ttl).Err()
}

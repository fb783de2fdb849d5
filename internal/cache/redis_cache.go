package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"ventasync/backend/internal/domain"
)

type RedisPeriodCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPeriodCache(addr string, password string, db int, ttl time.Duration) *RedisPeriodCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &RedisPeriodCache{client: client, ttl: ttl}
}

func (c *RedisPeriodCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisPeriodCache) Close() error {
	return c.client.Close()
}

func periodKey(month int, year int) string {
	return fmt.Sprintf("period:%04d-%02d", year, month)
}

func (c *RedisPeriodCache) Get(ctx context.Context, month int, year int) (domain.PeriodSnapshot, bool, error) {
	val, err := c.client.Get(ctx, periodKey(month, year)).Result()
	if err == redis.Nil {
		return domain.PeriodSnapshot{}, false, nil
	}
	if err != nil {
		return domain.PeriodSnapshot{}, false, err
	}

	var snap domain.PeriodSnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return domain.PeriodSnapshot{}, false, err
	}
	return snap, true, nil
}

func (c *RedisPeriodCache) Set(ctx context.Context, month int, year int, snap domain.PeriodSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, periodKey(month, year), payload, c.ttl).Err()
}

func (c *RedisPeriodCache) Delete(ctx context.Context, month int, year int) error {
	return c.client.Del(ctx, periodKey(month, year)).Err()
}

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_food/internal/domain"
	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

type ItemCache interface {
	Get(ctx context.Context, itemID int64) (*domain.Item, error)
	Set(ctx context.Context, item *domain.Item) error
	Delete(ctx context.Context, itemID int64) error
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: 15 * time.Minute,
	}
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r RedisCache) Get(ctx context.Context, itemID int64) (*domain.Item, error) {
	data, err := r.client.Get(ctx, cacheKey(itemID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var item domain.Item
	if err2 := json.Unmarshal(data, &item); err2 != nil {
		return nil, fmt.Errorf("unmarshal item failed: %w", err2)
	}
	return &item, nil
}

func (r RedisCache) Set(ctx context.Context, item *domain.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item failed: %w", err)
	}

	// jitter spreads expiry of items cached together
	jitter := time.Duration(rand.Intn(5)) * time.Minute
	if err := r.client.Set(ctx, cacheKey(item.ID), data, r.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r RedisCache) Delete(ctx context.Context, itemID int64) error {
	if err := r.client.Del(ctx, cacheKey(itemID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(itemID int64) string {
	return fmt.Sprintf("item:%d", itemID)
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/latiaodream/zuizhonghg-sub000/internal/hg"
	"github.com/latiaodream/zuizhonghg-sub000/internal/pkg/config"
)

// RedisMarketCache caches supplemental market payloads between feed ticks so
// a cache hit skips the network round trip. Display paths only; the bet
// pipeline always quotes fresh.
type RedisMarketCache struct {
	client *redis.Client
}

func NewRedisMarketCache(cfg *config.Redis) (*RedisMarketCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisMarketCache{client: client}, nil
}

func moreKey(matchID, showtype string) string {
	return fmt.Sprintf("more:%s:%s:ft", matchID, showtype)
}

// GetMore returns the cached supplemental markets for an event, or (nil,
// false) on a miss.
func (r *RedisMarketCache) GetMore(ctx context.Context, matchID, showtype string) (*hg.MoreMarkets, bool, error) {
	data, err := r.client.Get(ctx, moreKey(matchID, showtype)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var more hg.MoreMarkets
	if err := json.Unmarshal([]byte(data), &more); err != nil {
		return nil, false, fmt.Errorf("cache unmarshal: %w", err)
	}
	return &more, true, nil
}

// StoreMore caches supplemental markets with the given TTL. Writes are
// last-write-wins.
func (r *RedisMarketCache) StoreMore(ctx context.Context, matchID, showtype string, more *hg.MoreMarkets, ttl time.Duration) error {
	data, err := json.Marshal(more)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	if err := r.client.Set(ctx, moreKey(matchID, showtype), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (r *RedisMarketCache) Close() error {
	return r.client.Close()
}

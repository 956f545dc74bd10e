package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"videoLabeler/worker/registry"
)

const statusKeyPrefix = "transcode:status:"

// StatusCache mirrors transcode status snapshots into redis so external
// dashboards can read them. The in-process registry stays authoritative.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

func Connect(ctx context.Context, addr string, ttl time.Duration) (*StatusCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewStatusCache(client, ttl), nil
}

func NewStatusCache(client *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{client: client, ttl: ttl}
}

func Key(filename string) string {
	return statusKeyPrefix + filename
}

func (c *StatusCache) Set(ctx context.Context, st registry.TaskStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, Key(st.Filename), data, c.ttl).Err()
}

func (c *StatusCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *StatusCache) Close() error {
	return c.client.Close()
}

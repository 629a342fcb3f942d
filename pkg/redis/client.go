// Package redis keeps the pipeline's cross-process counters in Redis.
// The only counter today is the number of failed deliveries of a Kafka
// message, which must survive a worker restart so a poison message is
// dead-lettered instead of retried forever.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Processing-Pipeline/pkg/config"
	"github.com/redis/go-redis/v9"
)

// namespace prefixes every key the pipeline writes.
const namespace = "dp"

// Client is a go-redis client restricted to expiring counters.
type Client struct {
	rdb *redis.Client
}

// NewClient connects and PINGs, so an unreachable Redis is reported at
// startup rather than on the first failed delivery.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis at %s unreachable: %w", cfg.Addr, err)
	}
	slog.Debug("redis connected", "addr", cfg.Addr, "db", cfg.DB)
	return &Client{rdb: rdb}, nil
}

// Key joins parts under the pipeline namespace.
func Key(parts ...string) string {
	return namespace + ":" + strings.Join(parts, ":")
}

// Count increments the counter at key and re-arms its expiry in one
// MULTI/EXEC, returning the new value. An expired counter starts over at 1.
func (c *Client) Count(ctx context.Context, key string, ttl time.Duration) (int, error) {
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("counting %s: %w", key, err)
	}
	return int(incr.Val()), nil
}

// Forget drops the counter at key. Forgetting a missing counter is not an
// error.
func (c *Client) Forget(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("forgetting %s: %w", key, err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

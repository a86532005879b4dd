// Package cache is a thin redis layer in front of the ledger's idempotency
// lookups. The ledger stays authoritative; losing redis only costs queries.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const idempotencyTTL = 24 * time.Hour

type Cache struct {
	client *redis.Client
	logger *zap.Logger
}

func New(addr, password string, db int, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              db,
		PoolSize:        50,
		MinIdleConns:    5,
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis connected", zap.String("addr", addr))

	return &Cache{client: client, logger: logger}, nil
}

// IdempotencyKey formats the cache key for a transfer idempotency key.
func IdempotencyKey(key string) string {
	return fmt.Sprintf("transfer:idem:v1:%s", key)
}

// GetTransactionID returns the cached transaction id for an idempotency key,
// or "" on a miss. A miss is not an error.
func (c *Cache) GetTransactionID(ctx context.Context, key string) (string, error) {
	id, err := c.client.Get(ctx, IdempotencyKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

// SetTransactionID caches the mapping from idempotency key to transaction id.
func (c *Cache) SetTransactionID(ctx context.Context, key, transactionID string) error {
	return c.client.Set(ctx, IdempotencyKey(key), transactionID, idempotencyTTL).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

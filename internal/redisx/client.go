package redisx

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Cache wraps the client with the small surface the payment flow needs, so
// services can take it as an interface and tests can fake it in memory.
type Cache struct{ C *redis.Client }

// Reserve claims key if nobody holds it (SETNX). Returns false when the key
// already exists.
func (c Cache) Reserve(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.C.SetNX(ctx, key, value, ttl).Result()
}

func (c Cache) Release(ctx context.Context, key string) error {
	return c.C.Del(ctx, key).Err()
}

func (c Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.C.Set(ctx, key, value, ttl).Err()
}

// Get returns "" for a missing key.
func (c Cache) Get(ctx context.Context, key string) (string, error) {
	v, err := c.C.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// Package rediscache is a localcache.Cache in a shared Redis namespace.
package rediscache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/internal/errors"
	"github.com/jrsteele09/go-social-connect/internal/sealbox"
	"github.com/jrsteele09/go-social-connect/localcache"
)

var _ localcache.Cache = (*Cache)(nil)

const keyPrefix = "social-connect:cache"

type Cache struct {
	client redis.UniversalClient
	box    *sealbox.Box
}

func New(client redis.UniversalClient, box *sealbox.Box) (*Cache, error) {
	if client == nil {
		return nil, errors.New("[rediscache New] redis client is required")
	}
	if box == nil {
		return nil, errors.New("[rediscache New] sealbox is required")
	}
	return &Cache{client: client, box: box}, nil
}

// Connect dials Redis and verifies the connection with PING.
func Connect(ctx context.Context, addr, password string, db int, box *sealbox.Box) (*Cache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("[rediscache Connect] ping %s: %w", addr, err)
	}
	return New(client, box)
}

func key(userID string, platform accounts.Platform) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, userID, platform)
}

func (c *Cache) Get(ctx context.Context, userID string, platform accounts.Platform) (*localcache.Entry, error) {
	payload, err := c.client.Get(ctx, key(userID, platform)).Result()
	if errors.Is(err, redis.Nil) {
		return &localcache.Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[rediscache Get] %s/%s: %w", userID, platform, err)
	}
	return localcache.Open(c.box, payload)
}

func (c *Cache) Set(ctx context.Context, userID string, platform accounts.Platform, entry *localcache.Entry) error {
	payload, err := localcache.Seal(c.box, entry)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key(userID, platform), payload, 0).Err(); err != nil {
		return fmt.Errorf("[rediscache Set] %s/%s: %w", userID, platform, err)
	}
	return nil
}

func (c *Cache) Clear(ctx context.Context, userID string, platform accounts.Platform) error {
	if err := c.client.Del(ctx, key(userID, platform)).Err(); err != nil {
		return fmt.Errorf("[rediscache Clear] %s/%s: %w", userID, platform, err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

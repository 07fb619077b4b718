package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kinloop/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SetSearch caches a normalized search result list under the query hash.
// Search responses for a given query barely change within an hour, and the
// upstream API is metered, so caching is worth the staleness.
func (c *Client) SetSearch(ctx context.Context, queryHash string, results interface{}, ttl time.Duration) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("search:%s", queryHash), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set search cache: %w", err)
	}

	logger.Debug("Search results cached", zap.String("query_hash", queryHash), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetSearch(ctx context.Context, queryHash string, results interface{}) (bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("search:%s", queryHash)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get search cache: %w", err)
	}

	err = json.Unmarshal(data, results)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal results: %w", err)
	}

	logger.Debug("Search cache hit", zap.String("query_hash", queryHash))
	return true, nil
}

// AcquireEnrichLock takes the per-contact single-flight lock. A second
// enrichment run for the same contact while the lock is held gets false and
// must back off rather than race the merge. The TTL bounds lock leakage if a
// run dies without releasing.
func (c *Client) AcquireEnrichLock(ctx context.Context, contactID string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, fmt.Sprintf("enrich_lock:%s", contactID), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire enrich lock: %w", err)
	}

	if !ok {
		logger.Debug("Enrich lock contended", zap.String("contact_id", contactID))
	}
	return ok, nil
}

func (c *Client) ReleaseEnrichLock(ctx context.Context, contactID string) error {
	return c.client.Del(ctx, fmt.Sprintf("enrich_lock:%s", contactID)).Err()
}

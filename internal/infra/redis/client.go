// Package redis delivers manual-intervention notifications over Redis.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/waltergaltieri/postia/internal/core/domain"
)

const (
	// interventionChannel is the pub/sub channel operators subscribe to.
	interventionChannel = "postia:interventions"

	// interventionLog keeps the most recent events for consumers that were
	// not subscribed when they fired.
	interventionLog    = "postia:interventions:recent"
	interventionLogCap = 1000
)

// Client wraps Redis operations for the notification channel.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Notify publishes one manual-intervention event and appends it to the
// bounded recent-events list.
func (c *Client) Notify(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Publish(ctx, interventionChannel, payload)
	pipe.RPush(ctx, interventionLog, payload)
	pipe.LTrim(ctx, interventionLog, -interventionLogCap, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Recent returns up to limit of the latest notifications, newest last.
func (c *Client) Recent(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := c.rdb.LRange(ctx, interventionLog, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent notifications: %w", err)
	}

	notifications := make([]domain.Notification, 0, len(raw))
	for _, item := range raw {
		var n domain.Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			return nil, fmt.Errorf("failed to decode notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, nil
}

// Health checks if Redis is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

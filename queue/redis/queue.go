// Package redis tracks messages currently being processed by a worker pool.
// The queue bus and the worker pool do not call it; the bounded in-flight
// window per consumer is the AMQP prefetch that queue.NewBusWithDialer
// sets. Uses a ZSET-of-deadlines for MarkProcessing/Release; every method takes a
// context instead of storing one at construction, and the job shape is an
// opaque message ID string since the bus - not this tracker - owns message
// framing.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// InFlightTracker records which message IDs are currently claimed by a
// worker and until when, so a crashed worker's claims become visible for
// operator inspection and the number of claims per queue can be read.
type InFlightTracker struct {
	client *redis.Client
	prefix string
}

// Config configures the tracker's Redis connection.
type Config struct {
	RedisURL  string
	KeyPrefix string // defaults to "pipelinecore:inflight:"
}

// NewInFlightTracker connects to Redis and verifies the connection with a
// Ping before returning, failing fast rather than deferring the error to
// the first real operation.
func NewInFlightTracker(ctx context.Context, cfg Config) (*InFlightTracker, error) {
	redisURL := cfg.RedisURL
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "pipelinecore:inflight:"
	}
	return &InFlightTracker{client: client, prefix: prefix}, nil
}

// Close releases the Redis connection.
func (t *InFlightTracker) Close() error {
	return t.client.Close()
}

func (t *InFlightTracker) key(queueName string) string {
	return t.prefix + queueName
}

// MarkProcessing records messageID as claimed on queueName until deadline.
func (t *InFlightTracker) MarkProcessing(ctx context.Context, queueName, messageID string, deadline time.Time) error {
	return t.client.ZAdd(ctx, t.key(queueName), redis.Z{Score: float64(deadline.Unix()), Member: messageID}).Err()
}

// Release removes messageID from the in-flight set, on success or failure.
func (t *InFlightTracker) Release(ctx context.Context, queueName, messageID string) error {
	return t.client.ZRem(ctx, t.key(queueName), messageID).Err()
}

// Count returns how many messages are currently claimed on queueName.
func (t *InFlightTracker) Count(ctx context.Context, queueName string) (int64, error) {
	return t.client.ZCard(ctx, t.key(queueName)).Result()
}

// Expired returns message IDs whose processing deadline has passed without
// a Release, surfacing stuck claims for operator alerting.
func (t *InFlightTracker) Expired(ctx context.Context, queueName string, now time.Time) ([]string, error) {
	return t.client.ZRangeByScore(ctx, t.key(queueName), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gsraster/pkg/models"

	"github.com/redis/go-redis/v9"
)

const (
	StreamKeyPending = "gsraster:conversions:pending"
)

type RedisQueue struct {
	client    *redis.Client
	block     time.Duration
	claimIdle time.Duration
}

// RedisQueueConfig holds Redis connection configuration
type RedisQueueConfig struct {
	Addr         string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
	// PopBlock is how long Pop waits for a new message.
	PopBlock time.Duration
	// ClaimIdle is how long a delivered but unacked message may sit with a
	// consumer before another consumer's Pop takes it over. Zero disables
	// reclaiming.
	ClaimIdle time.Duration
}

// DefaultRedisQueueConfig returns defaults sized for a handful of executors.
func DefaultRedisQueueConfig(addr string) RedisQueueConfig {
	return RedisQueueConfig{
		Addr:         addr,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		PopBlock:     2 * time.Second,
		ClaimIdle:    15 * time.Minute,
	}
}

// NewRedisQueue initializes a new Redis client with default config.
func NewRedisQueue(addr string) (*RedisQueue, error) {
	return NewRedisQueueWithConfig(DefaultRedisQueueConfig(addr))
}

// NewRedisQueueWithConfig initializes a new Redis client with custom config.
func NewRedisQueueWithConfig(cfg RedisQueueConfig) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisQueue(client, cfg.PopBlock, cfg.ClaimIdle), nil
}

func newRedisQueue(client *redis.Client, block, claimIdle time.Duration) *RedisQueue {
	if block <= 0 {
		block = 2 * time.Second
	}
	return &RedisQueue{client: client, block: block, claimIdle: claimIdle}
}

func (r *RedisQueue) Close() error {
	return r.client.Close()
}

// Client returns the underlying connection, shared with the API key store.
func (r *RedisQueue) Client() *redis.Client {
	return r.client
}

// Push adds a conversion request to the pending stream.
func (r *RedisQueue) Push(ctx context.Context, req *models.ConversionRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	// XADD gsraster:conversions:pending * payload {json}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKeyPending,
		Values: map[string]interface{}{
			"payload":       payload,
			"conversion_id": req.ConversionID.String(),
		},
	}).Err()

	if err != nil {
		return fmt.Errorf("failed to push to queue: %w", err)
	}
	return nil
}

// EnsureGroup creates the consumer group if it doesn't exist.
func (r *RedisQueue) EnsureGroup(ctx context.Context, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, StreamKeyPending, group, "0").Err()
	if err != nil {
		if strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Pop retrieves a request for consumer. Messages left unacked by another
// consumer for longer than ClaimIdle are taken over first; otherwise Pop
// blocks for a new one.
func (r *RedisQueue) Pop(ctx context.Context, group string, consumer string) (string, *models.ConversionRequest, error) {
	if r.claimIdle > 0 {
		claimed, _, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   StreamKeyPending,
			Group:    group,
			Consumer: consumer,
			MinIdle:  r.claimIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return "", nil, fmt.Errorf("failed to reclaim stale requests: %w", err)
		}
		if len(claimed) > 0 {
			return decodeRequest(claimed[0])
		}
	}

	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{StreamKeyPending, ">"},
		Count:    1,
		Block:    r.block,
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil, nil // Timeout, no requests
		}
		return "", nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return "", nil, nil
	}

	return decodeRequest(streams[0].Messages[0])
}

func decodeRequest(msg redis.XMessage) (string, *models.ConversionRequest, error) {
	payloadStr, ok := msg.Values["payload"].(string)
	if !ok {
		return msg.ID, nil, fmt.Errorf("invalid payload format")
	}

	var req models.ConversionRequest
	if err := json.Unmarshal([]byte(payloadStr), &req); err != nil {
		return msg.ID, nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}

	return msg.ID, &req, nil
}

// Ack acknowledges a request as processed.
func (r *RedisQueue) Ack(ctx context.Context, group string, msgID string) error {
	return r.client.XAck(ctx, StreamKeyPending, group, msgID).Err()
}

// Len returns the number of entries in the pending stream.
func (r *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := r.client.XLen(ctx, StreamKeyPending).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read stream length: %w", err)
	}
	return n, nil
}

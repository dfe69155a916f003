package keyring

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses redisURL and checks the server answers.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// RedisCursor keeps the next index under a single key with a sliding TTL.
//
// The read and the write are separate round trips, so two callers racing
// between them read the same index and both get the same key. Rotation is a
// load spreading hint, not a quota guarantee; use AtomicRedisCursor when
// distinct keys per call matter.
type RedisCursor struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisCursor(client *redis.Client, key string, ttl time.Duration) *RedisCursor {
	if key == "" {
		key = DefaultCursorKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCursor{client: client, key: key, ttl: ttl}
}

func (c *RedisCursor) Advance(ctx context.Context, n int) (int, error) {
	var stored int64
	raw, err := c.client.Get(ctx, c.key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		stored = 0
	case err != nil:
		return 0, fmt.Errorf("read cursor: %w", err)
	default:
		stored, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			// Garbage in the slot restarts rotation.
			stored = 0
		}
	}

	index := wrap(stored, n)
	if err := c.client.Set(ctx, c.key, (index+1)%n, c.ttl).Err(); err != nil {
		return 0, fmt.Errorf("write cursor: %w", err)
	}
	return index, nil
}

// AtomicRedisCursor increments a counter inside MULTI/EXEC, so every caller
// gets its own sequence number and concurrent calls never share a key.
type AtomicRedisCursor struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewAtomicRedisCursor(client *redis.Client, key string, ttl time.Duration) *AtomicRedisCursor {
	if key == "" {
		key = DefaultCursorKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &AtomicRedisCursor{client: client, key: key + ":seq", ttl: ttl}
}

func (c *AtomicRedisCursor) Advance(ctx context.Context, n int) (int, error) {
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, c.key)
		pipe.PExpire(ctx, c.key, c.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment cursor: %w", err)
	}
	return wrap(incr.Val()-1, n), nil
}

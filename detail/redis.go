package detail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"casedesk/cases"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long an entry survives if Purge never runs.
const DefaultTTL = 30 * time.Minute

// RedisCache keeps details under a per-session key prefix so one Redis can
// serve many sessions without leaking entries between them.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Connect parses redisURL and checks the server is reachable.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("detail: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("detail: connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisCache scopes client to sessionKey.
func NewRedisCache(client *redis.Client, sessionKey string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{
		client: client,
		prefix: "casedesk:" + sessionKey + ":case:",
		ttl:    ttl,
	}
}

func (c *RedisCache) key(caseID int64) string {
	return c.prefix + strconv.FormatInt(caseID, 10)
}

func (c *RedisCache) Get(ctx context.Context, caseID int64) (cases.Detail, bool, error) {
	raw, err := c.client.Get(ctx, c.key(caseID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return cases.Detail{}, false, nil
	}
	if err != nil {
		return cases.Detail{}, false, fmt.Errorf("detail: get %d: %w", caseID, err)
	}
	var d cases.Detail
	if err := json.Unmarshal(raw, &d); err != nil {
		return cases.Detail{}, false, fmt.Errorf("detail: decode %d: %w", caseID, err)
	}
	return d, true, nil
}

func (c *RedisCache) Put(ctx context.Context, d cases.Detail) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("detail: encode %d: %w", d.ID, err)
	}
	if err := c.client.Set(ctx, c.key(d.ID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("detail: put %d: %w", d.ID, err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, caseID int64) error {
	if err := c.client.Del(ctx, c.key(caseID)).Err(); err != nil {
		return fmt.Errorf("detail: invalidate %d: %w", caseID, err)
	}
	return nil
}

// Purge deletes every key under the session prefix.
func (c *RedisCache) Purge(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("detail: scan session keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("detail: purge session keys: %w", err)
	}
	return nil
}

package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "sentiment:"

type redisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisStore is the shared-cache backend for server deployments. It stores
// the same {created_at, value} envelope as DiskStore and applies the same
// read-time TTL policy, so the two backends are interchangeable.
type RedisStore struct {
	client redisCmdable
	now    func() time.Time
}

// NewRedisStore accepts either a plain host:port or a redis:// URL.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	opts := &redis.Options{Addr: addr}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, err
		}
		opts = parsed
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client, now: time.Now}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string, ttl time.Duration) (json.RawMessage, bool) {
	redisKey := redisKeyPrefix + hashKey(key)
	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		return nil, false
	}

	value, ok, stale := decodeEntry(raw, ttl, s.now())
	if stale {
		_ = s.client.Del(ctx, redisKey).Err()
	}
	if !ok {
		return nil, false
	}
	return value, true
}

func (s *RedisStore) Set(ctx context.Context, key string, value any) {
	payload, err := encodeEntry(value, s.now())
	if err != nil {
		return
	}
	_ = s.client.Set(ctx, redisKeyPrefix+hashKey(key), payload, 0).Err()
}

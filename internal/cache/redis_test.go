package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	data    map[string]string
	deleted []string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if v, ok := f.data[key]; ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(f.data, k)
		f.deleted = append(f.deleted, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store := &RedisStore{client: newFakeRedis(), now: time.Now}
	ctx := context.Background()

	store.Set(ctx, "k", map[string]any{"label": "negative"})
	raw, ok := store.Get(ctx, "k", time.Hour)
	if !ok {
		t.Fatal("expected a hit")
	}
	var got map[string]string
	if err := json.Unmarshal(raw, &got); err != nil || got["label"] != "negative" {
		t.Fatalf("unexpected value %q (%v)", raw, err)
	}
}

func TestRedisStoreMissOnUnknownKey(t *testing.T) {
	store := &RedisStore{client: newFakeRedis(), now: time.Now}
	if _, ok := store.Get(context.Background(), "nope", NoTTL); ok {
		t.Fatal("expected a miss")
	}
}

func TestRedisStoreExpiredEntryDeleted(t *testing.T) {
	fake := newFakeRedis()
	store := &RedisStore{client: fake, now: time.Now}
	ctx := context.Background()

	store.Set(ctx, "k", "v")
	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if _, ok := store.Get(ctx, "k", time.Hour); ok {
		t.Fatal("expected expired entry to miss")
	}
	if len(fake.deleted) != 1 {
		t.Fatalf("expected stale key deletion, deleted=%v", fake.deleted)
	}
}

func TestRedisStoreCorruptEntryIsMiss(t *testing.T) {
	fake := newFakeRedis()
	store := &RedisStore{client: fake, now: time.Now}
	ctx := context.Background()

	fake.data[redisKeyPrefix+hashKey("k")] = "{broken"
	if _, ok := store.Get(ctx, "k", NoTTL); ok {
		t.Fatal("corrupt entry should be a miss")
	}
}

package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisKVStore implements KVStore over a shared *redis.Client, grounded
// on core/redis_client.go's connection handling and
// orchestration/workflow_state.go's RedisStateStore key-namespacing
// convention ("<domain>:<kind>:<id>").
type RedisKVStore struct {
	client *redis.Client
	prefix string
}

// NewRedisKVStore wraps an existing client. prefix namespaces every key
// (e.g. "swarm:pattern:") so one Redis instance can back several stores.
func NewRedisKVStore(client *redis.Client, prefix string) *RedisKVStore {
	return &RedisKVStore{client: client, prefix: prefix}
}

func (s *RedisKVStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisKVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("persistence: redis get %s: %w", key, err)
	}
	return val, true, nil
}

func (s *RedisKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("persistence: redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisKVStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("persistence: redis del %s: %w", key, err)
	}
	return nil
}

func (s *RedisKVStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.key(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(s.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("persistence: redis scan %s: %w", prefix, err)
	}
	return keys, nil
}

// RedisAppendLog implements AppendLog using Redis lists, mirroring
// orchestration/workflow_state.go's RedisStateStore use of LPush/LRange
// for an execution's step history, but keyed per-stream and read in
// append order (RPush + LRange) rather than prepended.
type RedisAppendLog struct {
	client *redis.Client
	prefix string
}

// NewRedisAppendLog wraps an existing client for append-log use.
func NewRedisAppendLog(client *redis.Client, prefix string) *RedisAppendLog {
	return &RedisAppendLog{client: client, prefix: prefix}
}

func (l *RedisAppendLog) key(stream string) string {
	return l.prefix + stream
}

func (l *RedisAppendLog) Append(ctx context.Context, stream string, record []byte) (int64, error) {
	n, err := l.client.RPush(ctx, l.key(stream), record).Result()
	if err != nil {
		return 0, fmt.Errorf("persistence: redis append %s: %w", stream, err)
	}
	return n - 1, nil
}

func (l *RedisAppendLog) Read(ctx context.Context, stream string, fromOffset int64, limit int) ([][]byte, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = fromOffset + int64(limit) - 1
	}
	vals, err := l.client.LRange(ctx, l.key(stream), fromOffset, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("persistence: redis read %s: %w", stream, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (l *RedisAppendLog) Len(ctx context.Context, stream string) (int64, error) {
	n, err := l.client.LLen(ctx, l.key(stream)).Result()
	if err != nil {
		return 0, fmt.Errorf("persistence: redis len %s: %w", stream, err)
	}
	return n, nil
}

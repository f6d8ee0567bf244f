package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis is the volatile MemoryProvider backend: the fast path for
// non-persistent namespaces (hot consensus/state-sync scratch keys)
// that need not survive a restart.
type Redis struct {
	client *redis.Client
}

// NewRedis builds a Redis-backed provider from an already-configured
// client (so callers own connection lifecycle/pooling).
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func redisKey(swarmID, namespace, key string) string {
	return fmt.Sprintf("moaiflow:%s:%s:%s", swarmID, namespace, key)
}

func redisNamespacePattern(swarmID, namespace string) string {
	return fmt.Sprintf("moaiflow:%s:%s:*", swarmID, namespace)
}

func (r *Redis) Store(ctx context.Context, swarmID, namespace, key string, value interface{}, persistent bool) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("marshal value: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(swarmID, namespace, key), data, 0).Err(); err != nil {
		return false, fmt.Errorf("redis set: %w", err)
	}
	return true, nil
}

func (r *Redis) Retrieve(ctx context.Context, swarmID, namespace, key string) (interface{}, bool, error) {
	raw, err := r.client.Get(ctx, redisKey(swarmID, namespace, key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, fmt.Errorf("unmarshal value: %w", err)
	}
	return value, true, nil
}

func (r *Redis) Delete(ctx context.Context, swarmID, namespace, key string) error {
	if err := r.client.Del(ctx, redisKey(swarmID, namespace, key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *Redis) ListKeys(ctx context.Context, swarmID, namespace, pattern string) ([]string, error) {
	prefix := redisNamespacePattern(swarmID, namespace)
	var out []string
	iter := r.client.Scan(ctx, 0, prefix, 0).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		key := strings.TrimPrefix(full, fmt.Sprintf("moaiflow:%s:%s:", swarmID, namespace))
		if pattern == "" {
			out = append(out, key)
			continue
		}
		if matched, _ := path.Match(pattern, key); matched {
			out = append(out, key)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return out, nil
}

func (r *Redis) ClearNamespace(ctx context.Context, swarmID, namespace string) error {
	prefix := redisNamespacePattern(swarmID, namespace)
	iter := r.client.Scan(ctx, 0, prefix, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *Redis) GetMemoryStats(ctx context.Context) (Stats, error) {
	var cursor uint64
	stats := Stats{Backend: "redis", NamespaceCounts: make(map[string]int)}
	for {
		keys, next, err := r.client.Scan(ctx, cursor, "moaiflow:*", 200).Result()
		if err != nil {
			return Stats{}, fmt.Errorf("redis scan: %w", err)
		}
		for _, k := range keys {
			parts := strings.SplitN(strings.TrimPrefix(k, "moaiflow:"), ":", 3)
			if len(parts) >= 2 {
				stats.NamespaceCounts[parts[1]]++
			}
			stats.TotalKeys++
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return stats, nil
}

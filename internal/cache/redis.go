package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"loom/internal/config"
)

// Redis backs Client with a Redis server via go-redis.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the cache configured in cfg and verifies the
// connection.
func NewRedis(ctx context.Context, cfg config.Cache) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (r *Redis) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	deleted, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return deleted, nil
}

func (r *Redis) Snapshot(ctx context.Context, patterns []string) ([]Entry, error) {
	seen := make(map[string]bool)
	var entries []Entry
	for _, pattern := range patterns {
		keys, err := r.Keys(ctx, pattern)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			if seen[key] {
				continue
			}
			seen[key] = true
			entry, err := r.snapshotKey(ctx, key)
			if err != nil {
				return nil, err
			}
			if entry != nil {
				entries = append(entries, *entry)
			}
		}
	}
	return entries, nil
}

func (r *Redis) snapshotKey(ctx context.Context, key string) (*Entry, error) {
	keyType, err := r.client.Type(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis type %s: %w", key, err)
	}

	entry := Entry{Key: key}
	switch keyType {
	case "string":
		entry.Kind = KindString
		entry.Value, err = r.client.Get(ctx, key).Result()
	case "list":
		entry.Kind = KindList
		entry.List, err = r.client.LRange(ctx, key, 0, -1).Result()
	case "hash":
		entry.Kind = KindHash
		entry.Hash, err = r.client.HGetAll(ctx, key).Result()
	case "set":
		entry.Kind = KindSet
		entry.Set, err = r.client.SMembers(ctx, key).Result()
	case "none":
		return nil, nil
	default:
		// Unsupported value type; skip rather than fail the snapshot.
		return nil, nil
	}
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis snapshot %s: %w", key, err)
	}

	if ttl, ttlErr := r.client.TTL(ctx, key).Result(); ttlErr == nil && ttl > 0 {
		entry.TTL = ttl
	}
	return &entry, nil
}

func (r *Redis) Restore(ctx context.Context, entries []Entry) error {
	pipe := r.client.TxPipeline()
	for _, entry := range entries {
		pipe.Del(ctx, entry.Key)
		switch entry.Kind {
		case KindString:
			pipe.Set(ctx, entry.Key, entry.Value, entry.TTL)
			continue
		case KindList:
			if len(entry.List) > 0 {
				values := make([]any, len(entry.List))
				for i, v := range entry.List {
					values[i] = v
				}
				pipe.RPush(ctx, entry.Key, values...)
			}
		case KindHash:
			if len(entry.Hash) > 0 {
				fields := make(map[string]any, len(entry.Hash))
				for k, v := range entry.Hash {
					fields[k] = v
				}
				pipe.HSet(ctx, entry.Key, fields)
			}
		case KindSet:
			if len(entry.Set) > 0 {
				members := make([]any, len(entry.Set))
				for i, v := range entry.Set {
					members[i] = v
				}
				pipe.SAdd(ctx, entry.Key, members...)
			}
		}
		if entry.TTL > 0 {
			pipe.Expire(ctx, entry.Key, entry.TTL)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis restore: %w", err)
	}
	return nil
}

func (r *Redis) PushCapped(ctx context.Context, key, value string, max int64) error {
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, value)
	if max > 0 {
		pipe.LTrim(ctx, key, 0, max-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis push %s: %w", key, err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context, key string) ([]string, error) {
	values, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", key, err)
	}
	return values, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

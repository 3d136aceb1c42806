package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devilmonastery/critterforge/internal/domain/repositories"
	"github.com/devilmonastery/critterforge/internal/pkg/metrics"
)

var _ repositories.SessionRepository = (*RedisRepository)(nil)

// RedisRepository stores sessions as plain keys with a TTL; redis expires
// them on its own.
type RedisRepository struct {
	client redis.Cmdable
	prefix string
}

// NewRedisRepository wraps a redis client. prefix namespaces the keys.
func NewRedisRepository(client redis.Cmdable, prefix string) *RedisRepository {
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) key(id string) string {
	return r.prefix + id
}

func (r *RedisRepository) Get(ctx context.Context, id string) (string, error) {
	start := time.Now()
	data, err := r.client.Get(ctx, r.key(id)).Result()
	metrics.RecordDBOperation("redis_session", "get", time.Since(start), -1, ignoreNil(err))

	if errors.Is(err, redis.Nil) {
		return "", repositories.ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get session: %w", err)
	}
	return data, nil
}

func (r *RedisRepository) Save(ctx context.Context, id, data string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return r.Delete(ctx, id)
	}

	start := time.Now()
	err := r.client.Set(ctx, r.key(id), data, ttl).Err()
	metrics.RecordDBOperation("redis_session", "save", time.Since(start), -1, err)
	if err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := r.client.Del(ctx, r.key(id)).Err()
	metrics.RecordDBOperation("redis_session", "delete", time.Since(start), -1, err)
	if err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op; keys carry their own TTL.
func (r *RedisRepository) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *RedisRepository) CountActive(ctx context.Context) (int64, error) {
	var (
		cursor uint64
		count  int64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 500).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan sessions: %w", err)
		}
		count += int64(len(keys))
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}

func ignoreNil(err error) error {
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

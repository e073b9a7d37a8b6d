package denylist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry is the shared Registry for multi-instance deployments.
// Each entry is one key with a server-side TTL; Redis expiry does the
// cleanup, no sweeper needed.
type RedisRegistry struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisRegistry creates a registry with the given key prefix.
func NewRedisRegistry(client redis.UniversalClient, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = "adl"
	}
	return &RedisRegistry{
		redis:  client,
		prefix: prefix,
		now:    time.Now,
	}
}

// WithClock overrides the clock used to compute entry TTLs. Test hook.
func (r *RedisRegistry) WithClock(now func() time.Time) *RedisRegistry {
	r.now = now
	return r
}

func (r *RedisRegistry) key(id string) string {
	return r.prefix + ":" + id
}

func (r *RedisRegistry) Blacklist(ctx context.Context, id string, until time.Time) error {
	if id == "" {
		return nil
	}
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}

	if err := r.redis.Set(ctx, r.key(id), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisRegistry) IsBlacklisted(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}

	err := r.redis.Get(ctx, r.key(id)).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return true, nil
}

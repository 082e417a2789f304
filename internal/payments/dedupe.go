package payments

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeTTL = 24 * time.Hour

// Deduper remembers status messages already applied, so exact replays short-circuit.
type Deduper interface {
	// Claim returns false if key was claimed before.
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string)
}

type RedisDeduper struct {
	rdb *redis.Client
}

func NewRedisDeduper(addr string) *RedisDeduper {
	return &RedisDeduper{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func (d *RedisDeduper) Ping(ctx context.Context) error {
	return d.rdb.Ping(ctx).Err()
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	return d.rdb.SetNX(ctx, key, 1, dedupeTTL).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, key string) {
	d.rdb.Del(ctx, key)
}

func (d *RedisDeduper) Close() error {
	return d.rdb.Close()
}

// noDedupe lets every message through; the state machine alone keeps replays harmless.
type noDedupe struct{}

func (noDedupe) Claim(context.Context, string) (bool, error) { return true, nil }
func (noDedupe) Release(context.Context, string)             {}

func dedupeKey(reference, hash string) string {
	return "paynow:status:" + reference + ":" + hash
}

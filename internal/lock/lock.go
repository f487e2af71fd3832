// Package lock serializes work on a single conversation. Two submissions for
// the same conversation never run their read-classify-write cycles
// concurrently; different conversations do not block each other.
package lock

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/comigor/triage-go/internal/config"
)

// Locker hands out exclusive per-key locks. The returned unlock func is safe
// to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

const (
	BackendLocal = "local"
	BackendRedis = "redis"
)

// New builds the locker named by cfg.Backend. An empty backend means local.
func New(cfg config.LockConfig) (Locker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendLocal:
		return NewLocal(), nil
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("lock: redis backend needs lock.redis_addr")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedis(client, cfg.Prefix, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("lock: unknown backend %q", cfg.Backend)
	}
}

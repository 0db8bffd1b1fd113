package store

import (
	"context"

	"github.com/redis/go-redis/v9"

	"qrattend/internal/config"
)

// Redis backs the finalize queue and the stats cache.
type Redis struct {
	Client *redis.Client
}

// OpenRedis builds a client with timeouts from config. Reads and writes
// get half the dial budget so a stalled node fails fast instead of
// holding a scan request open.
func OpenRedis(cfg config.App) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		DialTimeout:  cfg.RedisTimeout,
		ReadTimeout:  cfg.RedisTimeout / 2,
		WriteTimeout: cfg.RedisTimeout / 2,
	})
	return &Redis{Client: client}
}

// Healthy reports whether redis answers a ping.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// redisClientName shows up in CLIENT LIST next to the queue's BLPOP.
	redisClientName  = "gymtable"
	redisPingTimeout = 5 * time.Second
)

// NewRedisClient connects to the Redis behind the extraction queue and the
// pipeline lock. rawURL is a redis:// or rediss:// URL; its password never
// reaches the logs or the returned errors.
func NewRedisClient(ctx context.Context, rawURL string, log zerolog.Logger) (*redis.Client, error) {
	safe := redactURL(rawURL)

	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL %s: invalid", safe)
	}
	if opt.ClientName == "" {
		opt.ClientName = redisClientName
	}

	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", safe, err)
	}

	log.Info().
		Str("component", "redis").
		Str("url", safe).
		Int("db", opt.DB).
		Msg("Extraction queue connected")

	return rdb, nil
}

// redactURL hides the password of a connection URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	return u.Redacted()
}

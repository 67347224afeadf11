package store

import (
	"context"
	"fmt"
	"os"

	"github.com/quartzid/quartz/internal/oauth"
)

// FromEnv selects a token store backend from the environment:
// QUARTZ_TOKEN_STORE=memory|redis|postgres. Redis uses REDIS_URL, Postgres
// uses QUARTZ_DATABASE_URL with DATABASE_URL as fallback. The default is the
// in-memory store.
func FromEnv(ctx context.Context) (oauth.TokenStore, error) {
	switch backend := os.Getenv("QUARTZ_TOKEN_STORE"); backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		redisURL := os.Getenv("REDIS_URL")
		if redisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required for the redis token store")
		}
		return NewRedisStore(ctx, redisURL)
	case "postgres":
		connString := os.Getenv("QUARTZ_DATABASE_URL")
		if connString == "" {
			connString = os.Getenv("DATABASE_URL")
		}
		if connString == "" {
			return nil, fmt.Errorf("QUARTZ_DATABASE_URL or DATABASE_URL is required for the postgres token store")
		}
		return NewPostgresStore(connString)
	default:
		return nil, fmt.Errorf("unknown token store backend %q", backend)
	}
}

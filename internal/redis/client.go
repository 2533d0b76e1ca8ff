package redis

import (
	"meshly/internal/config"

	"github.com/redis/go-redis/v9"
)

// NewClient creates a Redis client from app configuration.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

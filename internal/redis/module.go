package redis

import (
	"context"

	"github.com/cvforge/creditengine/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("redis",
	fx.Provide(NewClient),
)

func NewClient(cfg config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// Only verify the connection when quota enforcement actually needs it;
	// the engine must come up without redis otherwise.
	if cfg.QuotaEnabled {
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, err
		}
	}

	return client, nil
}

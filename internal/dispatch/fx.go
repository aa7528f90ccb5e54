package dispatch

import (
	"context"

	"github.com/glidestudio/glide/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("dispatch",
	fx.Provide(newRedisClient),
	fx.Provide(newQueue),
	fx.Provide(newInflightGuard),
)

func newRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

func newQueue(client *redis.Client, log *zap.Logger, cfg config.Config) (*Queue, error) {
	return NewQueue(client, log, QueueConfig{
		Stream:     cfg.Jobs.Stream,
		Group:      cfg.Jobs.Group,
		MaxRetries: cfg.Jobs.MaxRetries,
		RetryDelay: cfg.Jobs.RetryDelay,
	})
}

func newInflightGuard(client *redis.Client, cfg config.Config) *InflightGuard {
	return NewInflightGuard(client, cfg.Jobs.InflightTTL)
}

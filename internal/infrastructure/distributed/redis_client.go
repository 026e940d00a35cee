package distributed

import (
	"context"
	"fmt"
	"time"

	"localmedia/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	PoolSize int
	Retry    retry.Config
}

// NewRedisClient connects to Redis, retrying the initial ping with backoff.
func NewRedisClient(ctx context.Context, cfg RedisConfig, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	err := retry.Retry(ctx, cfg.Retry, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infow("connected to Redis",
		"address", cfg.Address,
		"db", cfg.DB,
		"pool_size", cfg.PoolSize,
	)
	return client, nil
}

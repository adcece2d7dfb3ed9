package redis

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	config "github.com/avatarctic/ranked-posts/configs"
)

const (
	connectAttempts = 5
	connectBackoff  = 500 * time.Millisecond
)

// NewRedisClient connects to the Redis instance shared by the ranked cache, the image
// cache and the rate limiter. Startup retries a few times so the service can come up
// alongside Redis.
func NewRedisClient(cfg *config.RedisConfig, logger *logrus.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	})

	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout+time.Second)
		err = client.Ping(ctx).Err()
		cancel()
		if err == nil {
			return client, nil
		}
		if logger != nil {
			logger.WithFields(logrus.Fields{"attempt": attempt, "addr": client.Options().Addr}).WithError(err).Warn("redis: ping failed")
		}
		time.Sleep(time.Duration(attempt) * connectBackoff)
	}
	_ = client.Close()
	return nil, fmt.Errorf("connect to redis at %s: %w", client.Options().Addr, err)
}

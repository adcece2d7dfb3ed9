package health

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/avatarctic/ranked-posts/internal/core/ports"
	infraDB "github.com/avatarctic/ranked-posts/internal/infrastructure/db"
)

// probe adapts a ping function to ports.HealthChecker.
type probe struct {
	name string
	ping func(ctx context.Context) error
}

func (p probe) Name() string                    { return p.name }
func (p probe) Check(ctx context.Context) error { return p.ping(ctx) }

// NewDBHealthChecker creates a health checker for the post store.
func NewDBHealthChecker(db *infraDB.Database) ports.HealthChecker {
	return probe{name: "database", ping: db.Ping}
}

// NewRedisHealthChecker creates a health checker for the Redis instance backing the
// ranked cache and the rate limiter. An absent ranked cache is not a failure.
func NewRedisHealthChecker(client redis.Cmdable) ports.HealthChecker {
	return probe{name: "redis", ping: func(ctx context.Context) error { return client.Ping(ctx).Err() }}
}

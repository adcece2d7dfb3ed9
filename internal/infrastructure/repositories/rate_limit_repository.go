package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/avatarctic/ranked-posts/internal/core/ports"
)

// windowScript bumps a fixed-window counter and arms its expiry on the first hit only,
// so a steady stream of requests cannot keep an old window alive.
var windowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RateLimitRedisRepository keeps per-subject request counters in Redis.
type RateLimitRedisRepository struct {
	r   redis.Cmdable
	now func() time.Time
}

var _ ports.RateLimitRepository = (*RateLimitRedisRepository)(nil)

func NewRateLimitRedisRepository(r redis.Cmdable) *RateLimitRedisRepository {
	return &RateLimitRedisRepository{r: r, now: time.Now}
}

func windowKey(prefix, subject string, start time.Time) string {
	return fmt.Sprintf("%s:{%s}:%d", prefix, subject, start.Unix())
}

// IncrementWindow counts one request for subject in the window containing now.
func (repo *RateLimitRedisRepository) IncrementWindow(ctx context.Context, subject string, window time.Duration, keyPrefix string, ttl time.Duration) (int, time.Time, error) {
	start := repo.now().Truncate(window)
	n, err := windowScript.Run(ctx, repo.r, []string{windowKey(keyPrefix, subject, start)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, start, fmt.Errorf("rate limit window %s: %w", subject, err)
	}
	return int(n), start, nil
}

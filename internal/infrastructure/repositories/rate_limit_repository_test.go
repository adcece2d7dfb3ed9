package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func TestIncrementWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	now := time.Date(2024, 3, 1, 10, 15, 42, 0, time.UTC)
	repo := NewRateLimitRedisRepository(client)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		n, start, err := repo.IncrementWindow(ctx, "user:a", time.Minute, "rl", 2*time.Minute)
		require.NoError(t, err)
		require.Equal(t, want, n)
		require.Equal(t, now.Truncate(time.Minute), start)
	}

	key := windowKey("rl", "user:a", now.Truncate(time.Minute))
	require.Equal(t, 2*time.Minute, mr.TTL(key))

	n, _, err := repo.IncrementWindow(ctx, "ip:10.0.0.1", time.Minute, "rl", 2*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n, "subjects are counted separately")

	now = now.Add(time.Minute)
	n, _, err = repo.IncrementWindow(ctx, "user:a", time.Minute, "rl", 2*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n, "a new window starts a new count")
}

func TestIncrementWindowRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, _, err := NewRateLimitRedisRepository(client).IncrementWindow(context.Background(), "user:a", time.Minute, "rl", time.Minute)
	require.Error(t, err)
}

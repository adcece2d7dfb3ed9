package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/avatarctic/ranked-posts/internal/core/domain/post"
	rediscache "github.com/avatarctic/ranked-posts/internal/infrastructure/redis"
)

const (
	rankedKey   = "{posts}:ranked"
	snapshotKey = "{posts}:snapshot"
)

func newRankedCache(t *testing.T, cfg rediscache.RankedCacheConfig) (*rediscache.RankedCache, *miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return rediscache.NewRankedCache(client, cfg, nil), mr, client
}

func published(id, score int64) post.Post {
	return post.Post{
		ID:         id,
		Score:      score,
		Title:      fmt.Sprintf("post %d", id),
		Slug:       fmt.Sprintf("post-%d", id),
		Visibility: post.VisibilityPublished,
	}
}

func idsOf(posts []post.Post) []int64 {
	out := make([]int64, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func member(id int64) string { return fmt.Sprintf("%020d", id) }

func TestRankedCache_TopAndNextAcrossScoreTie(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := newRankedCache(t, rediscache.RankedCacheConfig{})

	require.NoError(t, cache.Populate(ctx, []post.Post{published(1, 10), published(2, 10), published(3, 5)}))

	top, err := cache.TopN(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 1}, idsOf(top))

	next, err := cache.NextN(ctx, 1, post.Cursor{LastID: 1, LastScore: 10})
	require.NoError(t, err)
	require.Equal(t, []int64{3}, idsOf(next))
	require.Equal(t, "post 3", next[0].Title)
}

func TestRankedCache_TiesUseNumericIDOrder(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := newRankedCache(t, rediscache.RankedCacheConfig{})

	require.NoError(t, cache.Populate(ctx, []post.Post{published(9, 1), published(100, 1), published(10, 1)}))

	top, err := cache.TopN(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, []int64{100, 10, 9}, idsOf(top))
}

func TestRankedCache_UpdateScoreReturnsNewScore(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := newRankedCache(t, rediscache.RankedCacheConfig{})

	require.NoError(t, cache.Populate(ctx, []post.Post{published(42, 5)}))

	score, err := cache.UpdateScore(ctx, 42, 3)
	require.NoError(t, err)
	require.Equal(t, int64(8), score)

	top, err := cache.TopN(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	require.Equal(t, int64(42), top[0].ID)
	require.Equal(t, int64(8), top[0].Score)
}

func TestRankedCache_UpdateScoreRoundTripConverges(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := newRankedCache(t, rediscache.RankedCacheConfig{})
	require.NoError(t, cache.Populate(ctx, []post.Post{published(1, 7), published(2, 3)}))

	_, err := cache.UpdateScore(ctx, 2, 1)
	require.NoError(t, err)
	score, err := cache.UpdateScore(ctx, 2, -1)
	require.NoError(t, err)
	require.Equal(t, int64(3), score)

	_, err = cache.UpdateScore(ctx, 99, 1)
	require.ErrorIs(t, err, post.ErrNotCached)
}

func TestRankedCache_PopulateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := newRankedCache(t, rediscache.RankedCacheConfig{})
	set := []post.Post{published(1, 4), published(2, 9), published(3, 4), published(4, 0), published(5, -2)}

	require.NoError(t, cache.Populate(ctx, set))
	first, err := cache.TopN(ctx, len(set))
	require.NoError(t, err)

	require.NoError(t, cache.Populate(ctx, set))
	second, err := cache.TopN(ctx, len(set))
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, []int64{2, 3, 1, 4, 5}, idsOf(first))
}

func TestRankedCache_PopulateReplacesPreviousView(t *testing.T) {
	ctx := context.Background()
	cache, _, client := newRankedCache(t, rediscache.RankedCacheConfig{})

	require.NoError(t, cache.Populate(ctx, []post.Post{published(1, 1), published(2, 2)}))
	require.NoError(t, cache.Populate(ctx, []post.Post{published(3, 3)}))

	size, err := cache.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), size)
	require.Equal(t, int64(1), client.HLen(ctx, snapshotKey).Val())
}

func TestRankedCache_PopulateTruncatesToMaxEntries(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := newRankedCache(t, rediscache.RankedCacheConfig{MaxEntries: 2})

	require.NoError(t, cache.Populate(ctx, []post.Post{published(1, 9), published(2, 8), published(3, 7)}))

	size, err := cache.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), size)
}

func TestRankedCache_OrderingAndPaginationCompleteness(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := newRankedCache(t, rediscache.RankedCacheConfig{MaxScoreDuplicates: 50})

	var set []post.Post
	for id := int64(1); id <= 40; id++ {
		set = append(set, published(id, id%4))
	}
	require.NoError(t, cache.Populate(ctx, set))

	n := len(set)
	all, err := cache.TopN(ctx, n)
	require.NoError(t, err)
	for i := 1; i < len(all); i++ {
		require.True(t, post.Before(all[i-1], all[i]), "out of order at %d", i)
	}

	for k := 1; k < n; k++ {
		head, err := cache.TopN(ctx, k)
		require.NoError(t, err)
		tail, err := cache.NextN(ctx, n-k, post.CursorOf(head[len(head)-1]))
		require.NoError(t, err)
		require.Equal(t, idsOf(all), append(idsOf(head), idsOf(tail)...), "split at %d", k)
	}
}

func TestRankedCache_TopNInsufficient(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := newRankedCache(t, rediscache.RankedCacheConfig{})
	require.NoError(t, cache.Populate(ctx, []post.Post{published(1, 1)}))

	_, err := cache.TopN(ctx, 2)
	require.True(t, post.IsKind(err, post.KindInsufficientCache))
}

func TestRankedCache_NextNInsufficientWhenTieRunExceedsWindow(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := newRankedCache(t, rediscache.RankedCacheConfig{MaxScoreDuplicates: 2})

	var set []post.Post
	for id := int64(1); id <= 10; id++ {
		set = append(set, published(id, 1))
	}
	require.NoError(t, cache.Populate(ctx, set))

	// ids 10, 9, 8 fill the window before the cursor position is passed
	_, err := cache.NextN(ctx, 1, post.Cursor{LastID: 3, LastScore: 1})
	require.True(t, post.IsKind(err, post.KindInsufficientCache))

	next, err := cache.NextN(ctx, 1, post.Cursor{LastID: 9, LastScore: 1})
	require.NoError(t, err)
	require.Equal(t, []int64{8}, idsOf(next))
}

func TestRankedCache_NextNInsufficientAtTail(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := newRankedCache(t, rediscache.RankedCacheConfig{})
	require.NoError(t, cache.Populate(ctx, []post.Post{published(1, 3), published(2, 2)}))

	_, err := cache.NextN(ctx, 2, post.Cursor{LastID: 1, LastScore: 3})
	require.True(t, post.IsKind(err, post.KindInsufficientCache))
}

func TestRankedCache_NextNWithCursorBetweenScores(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := newRankedCache(t, rediscache.RankedCacheConfig{})
	require.NoError(t, cache.Populate(ctx, []post.Post{published(1, 10), published(2, 6), published(3, 4)}))

	// the cursor references a post that is no longer cached
	next, err := cache.NextN(ctx, 2, post.Cursor{LastID: 77, LastScore: 8})
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3}, idsOf(next))
}

func TestRankedCache_PresenceAndTTL(t *testing.T) {
	ctx := context.Background()
	cache, mr, _ := newRankedCache(t, rediscache.RankedCacheConfig{TTL: time.Minute})

	present, err := cache.IsPresent(ctx)
	require.NoError(t, err)
	require.False(t, present)

	require.NoError(t, cache.Populate(ctx, []post.Post{published(1, 1)}))
	present, err = cache.IsPresent(ctx)
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, mr.TTL(rankedKey), mr.TTL(snapshotKey))

	mr.FastForward(time.Minute + time.Second)
	present, err = cache.IsPresent(ctx)
	require.NoError(t, err)
	require.False(t, present)
}

func TestRankedCache_HalfPresentCountsAsAbsent(t *testing.T) {
	ctx := context.Background()
	cache, mr, _ := newRankedCache(t, rediscache.RankedCacheConfig{})
	require.NoError(t, cache.Populate(ctx, []post.Post{published(1, 1)}))

	mr.Del(snapshotKey)
	present, err := cache.IsPresent(ctx)
	require.NoError(t, err)
	require.False(t, present)
}

func TestRankedCache_DivergedSnapshotIsReported(t *testing.T) {
	ctx := context.Background()
	cache, _, client := newRankedCache(t, rediscache.RankedCacheConfig{})
	require.NoError(t, cache.Populate(ctx, []post.Post{published(1, 2), published(2, 1)}))

	require.NoError(t, client.HDel(ctx, snapshotKey, member(2)).Err())

	_, err := cache.TopN(ctx, 2)
	require.True(t, post.IsKind(err, post.KindCacheUnavailable))
	require.ErrorIs(t, err, post.ErrSnapshotDiverged)

	require.NoError(t, cache.Invalidate(ctx))
	present, err := cache.IsPresent(ctx)
	require.NoError(t, err)
	require.False(t, present)
}

func TestRankedCache_InsertIntoAbsentCacheIsNoop(t *testing.T) {
	ctx := context.Background()
	cache, mr, _ := newRankedCache(t, rediscache.RankedCacheConfig{})

	err := cache.Insert(ctx, published(5, 5), &post.Image{Data: []byte("png"), ContentType: "image/png"})
	require.ErrorIs(t, err, post.ErrCacheAbsent)
	require.False(t, mr.Exists(rankedKey))
	require.False(t, mr.Exists(snapshotKey))
	require.False(t, mr.Exists("{posts}:image:5"))
}

func TestRankedCache_InsertOverflowsByOneThenTrims(t *testing.T) {
	ctx := context.Background()
	cache, _, client := newRankedCache(t, rediscache.RankedCacheConfig{MaxEntries: 3})
	require.NoError(t, cache.Populate(ctx, []post.Post{published(1, 1), published(2, 2), published(3, 3)}))

	require.NoError(t, cache.Insert(ctx, published(4, 10), nil))
	size, err := cache.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), size)

	require.NoError(t, cache.Insert(ctx, published(5, 20), nil))
	size, err = cache.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), size)
	require.Equal(t, int64(4), client.HLen(ctx, snapshotKey).Val())

	lowest, ok, err := cache.LowestScore(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), lowest)

	top, err := cache.TopN(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, []int64{5, 4, 3, 2}, idsOf(top))
}

func TestRankedCache_RemoveDropsEntryAndImage(t *testing.T) {
	ctx := context.Background()
	cache, mr, client := newRankedCache(t, rediscache.RankedCacheConfig{})
	require.NoError(t, cache.Populate(ctx, []post.Post{published(1, 1)}))
	require.NoError(t, cache.Insert(ctx, published(2, 2), &post.Image{Data: []byte{1, 2, 3}, ContentType: "image/png"}))
	require.True(t, mr.Exists("{posts}:image:2"))

	require.NoError(t, cache.Remove(ctx, 2))

	size, err := cache.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), size)
	require.False(t, client.HExists(ctx, snapshotKey, member(2)).Val())
	require.False(t, mr.Exists("{posts}:image:2"))

	// removing an absent id is harmless
	require.NoError(t, cache.Remove(ctx, 2))
}

func TestRankedCache_RefreshRewritesSoleEntryInPlace(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := newRankedCache(t, rediscache.RankedCacheConfig{})
	require.NoError(t, cache.Populate(ctx, []post.Post{published(1, 4)}))

	edited := published(1, 6)
	edited.Title = "edited"
	ok, err := cache.Refresh(ctx, edited)
	require.NoError(t, err)
	require.True(t, ok)

	present, err := cache.IsPresent(ctx)
	require.NoError(t, err)
	require.True(t, present)
	top, err := cache.TopN(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "edited", top[0].Title)
	require.Equal(t, int64(6), top[0].Score)

	// an uncached post is not added
	ok, err = cache.Refresh(ctx, published(2, 9))
	require.NoError(t, err)
	require.False(t, ok)
	size, err := cache.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), size)
}

func TestRankedCache_LowestScore(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := newRankedCache(t, rediscache.RankedCacheConfig{})

	_, ok, err := cache.LowestScore(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Populate(ctx, []post.Post{published(1, 7), published(2, -3), published(3, 0)}))
	lowest, ok, err := cache.LowestScore(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(-3), lowest)
}

func TestRankedCache_ImageTTLRefreshedOnRead(t *testing.T) {
	ctx := context.Background()
	cache, mr, _ := newRankedCache(t, rediscache.RankedCacheConfig{ImageTTL: time.Minute})

	_, ok, err := cache.GetImage(ctx, 7)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.SetImage(ctx, 7, post.Image{Data: []byte("gif89a"), ContentType: "image/gif"}))
	mr.FastForward(40 * time.Second)

	img, ok, err := cache.GetImage(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("gif89a"), img.Data)
	require.Equal(t, "image/gif", img.ContentType)
	require.Equal(t, time.Minute, mr.TTL("{posts}:image:7"))

	mr.FastForward(61 * time.Second)
	_, ok, err = cache.GetImage(ctx, 7)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRankedCache_PayloadCodecs(t *testing.T) {
	for _, name := range []string{"json", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			codec, err := rediscache.CodecByName(name)
			require.NoError(t, err)
			cache, _, _ := newRankedCache(t, rediscache.RankedCacheConfig{Codec: codec})

			want := published(11, 3)
			want.CreatorID = uuid.New()
			want.Body = "body"
			want.HasImage = true
			want.CreatedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
			want.UpdatedAt = want.CreatedAt.Add(time.Hour)
			require.NoError(t, cache.Populate(ctx, []post.Post{want}))

			got, err := cache.TopN(ctx, 1)
			require.NoError(t, err)
			require.Len(t, got, 1)
			require.Equal(t, want.CreatorID, got[0].CreatorID)
			require.Equal(t, want.Title, got[0].Title)
			require.Equal(t, want.Body, got[0].Body)
			require.Equal(t, want.Visibility, got[0].Visibility)
			require.True(t, got[0].HasImage)
			require.True(t, want.CreatedAt.Equal(got[0].CreatedAt))
			require.True(t, want.UpdatedAt.Equal(got[0].UpdatedAt))
		})
	}

	_, err := rediscache.CodecByName("xml")
	require.Error(t, err)
}

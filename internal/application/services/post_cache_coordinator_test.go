package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/avatarctic/ranked-posts/internal/application/services"
	"github.com/avatarctic/ranked-posts/internal/core/domain/post"
	rediscache "github.com/avatarctic/ranked-posts/internal/infrastructure/redis"
	tmocks "github.com/avatarctic/ranked-posts/test/mocks"
)

// memStore is an in-memory post store that answers ranking queries in canonical order.
type memStore struct {
	posts     map[int64]post.PostWithImage
	topCalls  []int
	nextCalls []int
}

func newMemStore(posts ...post.Post) *memStore {
	s := &memStore{posts: map[int64]post.PostWithImage{}}
	for _, p := range posts {
		s.posts[p.ID] = post.PostWithImage{Post: p}
	}
	return s
}

func (s *memStore) ranked(vs []post.Visibility, creator *uuid.UUID, cursor *post.Cursor, limit int) []post.Post {
	allowed := map[post.Visibility]bool{}
	for _, v := range vs {
		allowed[v] = true
	}
	out := []post.Post{}
	for _, p := range s.posts {
		if !allowed[p.Visibility] {
			continue
		}
		if creator != nil && p.CreatorID != *creator {
			continue
		}
		if cursor != nil && !cursor.Admits(p.Score, p.ID) {
			continue
		}
		out = append(out, p.Post)
	}
	post.SortCanonical(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *memStore) repo() *tmocks.PostRepositoryMock {
	return &tmocks.PostRepositoryMock{
		FindTopNFn: func(ctx context.Context, limit int, vs []post.Visibility) ([]post.Post, error) {
			s.topCalls = append(s.topCalls, limit)
			return s.ranked(vs, nil, nil, limit), nil
		},
		FindNextNFn: func(ctx context.Context, limit int, vs []post.Visibility, c post.Cursor) ([]post.Post, error) {
			s.nextCalls = append(s.nextCalls, limit)
			return s.ranked(vs, nil, &c, limit), nil
		},
		FindTopNByCreatorFn: func(ctx context.Context, limit int, vs []post.Visibility, creator uuid.UUID) ([]post.Post, error) {
			s.topCalls = append(s.topCalls, limit)
			return s.ranked(vs, &creator, nil, limit), nil
		},
		GetWithImageByIDFn: func(ctx context.Context, id int64) (*post.PostWithImage, error) {
			p, ok := s.posts[id]
			if !ok {
				return nil, post.NotFound("mem.get", id)
			}
			return &p, nil
		},
	}
}

func scored(id, score int64) post.Post {
	return post.Post{ID: id, Score: score, Title: "t", Visibility: post.VisibilityPublished}
}

func postIDs(posts []post.Post) []int64 {
	out := make([]int64, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func newRealCache(t *testing.T, maxEntries int) *rediscache.RankedCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return rediscache.NewRankedCache(client, rediscache.RankedCacheConfig{MaxEntries: maxEntries}, nil)
}

func TestCoordinator_RefillThenServeFromCache(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(scored(1, 10), scored(2, 10), scored(3, 5))
	cache := newRealCache(t, 100)
	c := services.NewPostCacheCoordinator(store.repo(), cache, nil, nil)

	top, err := c.FindTopN(ctx, 2, post.EligibleOnly())
	require.NoError(t, err)
	require.Equal(t, []int64{2, 1}, postIDs(top))
	require.Equal(t, []int{100}, store.topCalls, "refill pulls MaxEntries")

	next, err := c.FindNextN(ctx, 1, post.EligibleOnly(), post.Cursor{LastID: 1, LastScore: 10})
	require.NoError(t, err)
	require.Equal(t, []int64{3}, postIDs(next))
	require.Len(t, store.topCalls, 1)
	require.Empty(t, store.nextCalls, "served from the populated cache")
}

func TestCoordinator_NextAfterRefillUsesInsertionPoint(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(scored(1, 10), scored(2, 6), scored(3, 4))
	c := services.NewPostCacheCoordinator(store.repo(), newRealCache(t, 100), nil, nil)

	// the cursor's post was deleted; the page starts after its position
	next, err := c.FindNextN(ctx, 5, post.EligibleOnly(), post.Cursor{LastID: 9, LastScore: 7})
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3}, postIDs(next))
	require.Empty(t, store.nextCalls)
}

func TestCoordinator_CacheMatchesStoreAfterRefill(t *testing.T) {
	ctx := context.Background()
	var posts []post.Post
	for id := int64(1); id <= 30; id++ {
		posts = append(posts, scored(id, (id*7)%5))
	}
	store := newMemStore(posts...)
	c := services.NewPostCacheCoordinator(store.repo(), newRealCache(t, 100), nil, nil)

	_, err := c.Refill(ctx)
	require.NoError(t, err)

	for _, n := range []int{1, 5, 17, 30} {
		got, err := c.FindTopN(ctx, n, post.EligibleOnly())
		require.NoError(t, err)
		want := store.ranked([]post.Visibility{post.VisibilityPublished}, nil, nil, n)
		require.Equal(t, postIDs(want), postIDs(got), "n=%d", n)
	}
}

func TestCoordinator_ShortRefillBatchFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(scored(1, 5), scored(2, 4), scored(3, 3), scored(4, 2))
	c := services.NewPostCacheCoordinator(store.repo(), newRealCache(t, 2), nil, nil)

	top, err := c.FindTopN(ctx, 3, post.EligibleOnly())
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, postIDs(top))
	require.Equal(t, []int{2, 3}, store.topCalls)
}

func TestCoordinator_BroaderFilterNeverTouchesCache(t *testing.T) {
	ctx := context.Background()
	hidden := scored(4, 50)
	hidden.Visibility = post.VisibilityHidden
	store := newMemStore(scored(1, 10), scored(2, 10), hidden)

	fail := func() { t.Fatal("cache must not be consulted") }
	cache := &tmocks.RankedCacheMock{
		IsPresentFn: func(ctx context.Context) (bool, error) { fail(); return false, nil },
		TopNFn:      func(ctx context.Context, n int) ([]post.Post, error) { fail(); return nil, nil },
		NextNFn: func(ctx context.Context, n int, c post.Cursor) ([]post.Post, error) {
			fail()
			return nil, nil
		},
		PopulateFn: func(ctx context.Context, posts []post.Post) error { fail(); return nil },
	}
	c := services.NewPostCacheCoordinator(store.repo(), cache, nil, nil)

	filter := post.Filter{Visibilities: []post.Visibility{post.VisibilityPublished, post.VisibilityHidden}}
	top, err := c.FindTopN(ctx, 2, filter)
	require.NoError(t, err)
	require.Equal(t, []int64{4, 2}, postIDs(top))

	next, err := c.FindNextN(ctx, 2, filter, post.Cursor{LastID: 2, LastScore: 10})
	require.NoError(t, err)
	require.Equal(t, []int64{1}, postIDs(next))
}

func TestCoordinator_CreatorFilterUsesScopedQuery(t *testing.T) {
	ctx := context.Background()
	creator := uuid.New()
	mine := scored(1, 3)
	mine.CreatorID = creator
	store := newMemStore(mine, scored(2, 9))
	c := services.NewPostCacheCoordinator(store.repo(), &tmocks.RankedCacheMock{}, nil, nil)

	filter := post.EligibleOnly()
	filter.CreatorID = &creator
	top, err := c.FindTopN(ctx, 10, filter)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, postIDs(top))
}

func TestCoordinator_CacheFailuresDegradeToStore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(scored(1, 3), scored(2, 2))

	t.Run("presence check fails", func(t *testing.T) {
		cache := &tmocks.RankedCacheMock{IsPresentFn: func(ctx context.Context) (bool, error) {
			return false, post.CacheUnavailable("cache.is_present", errors.New("timeout"))
		}}
		c := services.NewPostCacheCoordinator(store.repo(), cache, nil, nil)
		top, err := c.FindTopN(ctx, 1, post.EligibleOnly())
		require.NoError(t, err)
		require.Equal(t, []int64{1}, postIDs(top))
	})

	t.Run("insufficient cache", func(t *testing.T) {
		cache := &tmocks.RankedCacheMock{IsPresentFn: func(ctx context.Context) (bool, error) { return true, nil }}
		c := services.NewPostCacheCoordinator(store.repo(), cache, nil, nil)
		next, err := c.FindNextN(ctx, 1, post.EligibleOnly(), post.Cursor{LastID: 1, LastScore: 3})
		require.NoError(t, err)
		require.Equal(t, []int64{2}, postIDs(next))
	})

	t.Run("diverged snapshot invalidates", func(t *testing.T) {
		invalidated := false
		cache := &tmocks.RankedCacheMock{
			IsPresentFn: func(ctx context.Context) (bool, error) { return true, nil },
			TopNFn: func(ctx context.Context, n int) ([]post.Post, error) {
				return nil, post.CacheUnavailable("cache.top", post.ErrSnapshotDiverged)
			},
			InvalidateFn: func(ctx context.Context) error { invalidated = true; return nil },
		}
		c := services.NewPostCacheCoordinator(store.repo(), cache, nil, nil)
		top, err := c.FindTopN(ctx, 2, post.EligibleOnly())
		require.NoError(t, err)
		require.Equal(t, []int64{1, 2}, postIDs(top))
		require.True(t, invalidated)
	})
}

func TestCoordinator_RefillStoreFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	repo := &tmocks.PostRepositoryMock{FindTopNFn: func(ctx context.Context, limit int, vs []post.Visibility) ([]post.Post, error) {
		return nil, post.StoreUnavailable("db.find_top", errors.New("connection refused"))
	}}
	c := services.NewPostCacheCoordinator(repo, &tmocks.RankedCacheMock{}, nil, nil)

	_, err := c.FindTopN(ctx, 5, post.EligibleOnly())
	require.True(t, post.IsKind(err, post.KindStoreUnavailable))
}

func TestCoordinator_PopulateFailureStillServesBatch(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(scored(1, 3), scored(2, 2))
	cache := &tmocks.RankedCacheMock{PopulateFn: func(ctx context.Context, posts []post.Post) error {
		return post.CacheUnavailable("cache.populate", errors.New("oom"))
	}}
	c := services.NewPostCacheCoordinator(store.repo(), cache, nil, nil)

	top, err := c.FindTopN(ctx, 2, post.EligibleOnly())
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, postIDs(top))
}

func TestCoordinator_LoadIfEligibleRespectsLowestScore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(scored(7, 1), scored(8, 3))
	inserted := []int64{}
	cache := &tmocks.RankedCacheMock{
		Max:           4,
		IsPresentFn:   func(ctx context.Context) (bool, error) { return true, nil },
		SizeFn:        func(ctx context.Context) (int64, error) { return 4, nil },
		LowestScoreFn: func(ctx context.Context) (int64, bool, error) { return 2, true, nil },
		InsertFn: func(ctx context.Context, p post.Post, img *post.Image) error {
			inserted = append(inserted, p.ID)
			return nil
		},
	}
	c := services.NewPostCacheCoordinator(store.repo(), cache, nil, nil)

	c.LoadIfEligible(ctx, 7)
	require.Empty(t, inserted, "score below the lowest cached score is skipped when full")

	c.LoadIfEligible(ctx, 8)
	require.Equal(t, []int64{8}, inserted)
}

func TestCoordinator_LoadIfEligibleSkipsHiddenAndAbsentCache(t *testing.T) {
	ctx := context.Background()
	hidden := scored(1, 100)
	hidden.Visibility = post.VisibilityHidden
	store := newMemStore(hidden, scored(2, 100))

	present := true
	cache := &tmocks.RankedCacheMock{
		IsPresentFn: func(ctx context.Context) (bool, error) { return present, nil },
		InsertFn: func(ctx context.Context, p post.Post, img *post.Image) error {
			t.Fatalf("unexpected insert of %d", p.ID)
			return nil
		},
	}
	c := services.NewPostCacheCoordinator(store.repo(), cache, nil, nil)

	c.LoadIfEligible(ctx, 1)
	present = false
	c.LoadIfEligible(ctx, 2)
	c.LoadIfEligible(ctx, 404)
}

func TestCoordinator_ScoreChangesConvergeInCache(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(scored(1, 10), scored(2, 5))
	cache := newRealCache(t, 100)
	c := services.NewPostCacheCoordinator(store.repo(), cache, nil, nil)
	_, err := c.Refill(ctx)
	require.NoError(t, err)

	c.OnScoreChange(ctx, 2, 1)
	c.OnScoreChange(ctx, 2, -1)

	top, err := cache.TopN(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, int64(5), top[1].Score)
}

func TestCoordinator_ScoreChangeLoadsUncachedPost(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(scored(1, 10))
	cache := newRealCache(t, 100)
	c := services.NewPostCacheCoordinator(store.repo(), cache, nil, nil)
	_, err := c.Refill(ctx)
	require.NoError(t, err)

	// published after the refill, then voted up
	store.posts[2] = post.PostWithImage{Post: scored(2, 11)}
	c.OnScoreChange(ctx, 2, 1)

	top, err := cache.TopN(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 1}, postIDs(top))
}

func TestCoordinator_VisibilityAndDeletePropagation(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(scored(1, 10), scored(2, 5))
	cache := newRealCache(t, 100)
	c := services.NewPostCacheCoordinator(store.repo(), cache, nil, nil)
	_, err := c.Refill(ctx)
	require.NoError(t, err)

	c.OnVisibilityChange(ctx, 1, false)
	size, err := cache.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), size)

	c.OnVisibilityChange(ctx, 1, true)
	size, err = cache.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), size)

	c.OnDelete(ctx, 2)
	top, err := cache.TopN(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, postIDs(top))
}

func TestCoordinator_ContentChangeRefreshesPayload(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(scored(1, 10))
	cache := newRealCache(t, 100)
	c := services.NewPostCacheCoordinator(store.repo(), cache, nil, nil)
	_, err := c.Refill(ctx)
	require.NoError(t, err)

	p := store.posts[1]
	p.Title = "edited"
	store.posts[1] = p
	c.OnContentChange(ctx, 1)

	top, err := cache.TopN(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "edited", top[0].Title)
}

func TestCoordinator_ContentChangeOnHiddenOrUncachedPost(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(scored(1, 10), scored(2, 5))
	cache := newRealCache(t, 100)
	c := services.NewPostCacheCoordinator(store.repo(), cache, nil, nil)
	_, err := c.Refill(ctx)
	require.NoError(t, err)

	hidden := store.posts[2]
	hidden.Visibility = post.VisibilityDraft
	store.posts[2] = hidden
	c.OnContentChange(ctx, 2)
	size, err := cache.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), size)

	store.posts[3] = post.PostWithImage{Post: scored(3, 7)}
	c.OnContentChange(ctx, 3)
	top, err := cache.TopN(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3}, postIDs(top))
}

func TestCoordinator_RefillOutlivesCancelledCaller(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	calls := 0
	repo := &tmocks.PostRepositoryMock{
		FindTopNFn: func(ctx context.Context, limit int, vs []post.Visibility) ([]post.Post, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			once.Do(func() { close(started) })
			<-release
			if err := ctx.Err(); err != nil {
				return nil, post.StoreUnavailable("mem.top", err)
			}
			return []post.Post{scored(1, 3)}, nil
		},
	}
	cache := newRealCache(t, 100)
	c := services.NewPostCacheCoordinator(repo, cache, nil, nil)

	callerCtx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := c.Refill(callerCtx)
		errs <- err
	}()

	<-started
	cancel()
	err := <-errs
	require.True(t, post.IsKind(err, post.KindStoreUnavailable), "the cancelled caller stops waiting")

	close(release)
	require.Eventually(t, func() bool {
		present, err := cache.IsPresent(context.Background())
		return err == nil && present
	}, time.Second, 5*time.Millisecond, "the shared refill still completes")

	batch, err := c.Refill(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{1}, postIDs(batch))
	mu.Lock()
	defer mu.Unlock()
	require.LessOrEqual(t, calls, 2)
}

func TestCoordinator_PopulateIsNotBoundByCacheCallTimeout(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(scored(1, 3), scored(2, 2))
	populated := false
	cache := &tmocks.RankedCacheMock{
		PopulateFn: func(ctx context.Context, posts []post.Post) error {
			select {
			case <-time.After(20 * time.Millisecond):
				populated = true
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	cfg := &services.CoordinatorConfig{CacheCallTimeout: time.Millisecond, StoreCallTimeout: time.Second}
	c := services.NewPostCacheCoordinator(store.repo(), cache, cfg, nil)

	batch, err := c.Refill(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.True(t, populated)
}

func TestCoordinator_ImageCacheThenStore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(scored(1, 1), scored(2, 1))
	withImage := store.posts[1]
	withImage.Image = []byte("png-bytes")
	withImage.ImageType = "image/png"
	store.posts[1] = withImage

	cached := map[int64]post.Image{}
	cache := &tmocks.RankedCacheMock{
		GetImageFn: func(ctx context.Context, id int64) (*post.Image, bool, error) {
			img, ok := cached[id]
			if !ok {
				return nil, false, nil
			}
			return &img, true, nil
		},
		SetImageFn: func(ctx context.Context, id int64, img post.Image) error {
			cached[id] = img
			return nil
		},
	}
	c := services.NewPostCacheCoordinator(store.repo(), cache, nil, nil)

	img, err := c.Image(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "image/png", img.ContentType)
	require.Contains(t, cached, int64(1))

	delete(store.posts, 1)
	img, err = c.Image(ctx, 1)
	require.NoError(t, err, "second read is served by the image cache")
	require.Equal(t, []byte("png-bytes"), img.Data)

	_, err = c.Image(ctx, 2)
	require.True(t, post.IsKind(err, post.KindNotFound))
}

package services

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/avatarctic/ranked-posts/internal/core/domain/post"
	"github.com/avatarctic/ranked-posts/internal/core/ports"
)

var (
	rankedReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranked_cache_reads_total",
			Help: "Ranking reads by serving path and routing reason",
		},
		[]string{"path", "reason"},
	)

	rankedRefillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranked_cache_refills_total",
			Help: "Full ranked cache rebuilds by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(rankedReadsTotal)
	prometheus.MustRegister(rankedRefillsTotal)
}

const refillKey = "ranked-refill"

// CoordinatorConfig bounds every cache and store call made by the coordinator.
type CoordinatorConfig struct {
	CacheCallTimeout time.Duration
	StoreCallTimeout time.Duration
}

// PostCacheCoordinator serves ranking reads cache-first and keeps the ranked cache
// in step with committed store writes. The store stays authoritative throughout.
type PostCacheCoordinator struct {
	repo    ports.PostRepository
	cache   ports.RankedCache
	cfg     CoordinatorConfig
	refills singleflight.Group
	logger  *logrus.Logger
}

var _ ports.PostCoordinator = (*PostCacheCoordinator)(nil)

func NewPostCacheCoordinator(repo ports.PostRepository, cache ports.RankedCache, cfg *CoordinatorConfig, logger *logrus.Logger) *PostCacheCoordinator {
	c := &PostCacheCoordinator{repo: repo, cache: cache, logger: logger}
	if cfg != nil {
		c.cfg = *cfg
	}
	return c
}

func (c *PostCacheCoordinator) cacheCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return withOptionalTimeout(ctx, c.cfg.CacheCallTimeout)
}

func (c *PostCacheCoordinator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return withOptionalTimeout(ctx, c.cfg.StoreCallTimeout)
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (c *PostCacheCoordinator) FindTopN(ctx context.Context, n int, filter post.Filter) ([]post.Post, error) {
	if n <= 0 {
		return []post.Post{}, nil
	}
	if !filter.Cacheable() {
		rankedReadsTotal.WithLabelValues("store", "filter").Inc()
		return c.storeTopN(ctx, n, filter)
	}

	present, err := c.isPresent(ctx)
	if err != nil {
		rankedReadsTotal.WithLabelValues("store", "cache_error").Inc()
		return c.storeTopN(ctx, n, filter)
	}
	if !present {
		batch, err := c.Refill(ctx)
		if err != nil {
			return nil, err
		}
		if len(batch) >= n || len(batch) < c.cache.MaxEntries() {
			rankedReadsTotal.WithLabelValues("refill", "absent").Inc()
			return head(batch, n), nil
		}
		rankedReadsTotal.WithLabelValues("store", "insufficient").Inc()
		return c.storeTopN(ctx, n, filter)
	}

	cctx, cancel := c.cacheCtx(ctx)
	posts, err := c.cache.TopN(cctx, n)
	cancel()
	if err == nil {
		rankedReadsTotal.WithLabelValues("cache", "hit").Inc()
		return posts, nil
	}
	rankedReadsTotal.WithLabelValues("store", c.degrade(ctx, "coordinator.top", err)).Inc()
	return c.storeTopN(ctx, n, filter)
}

func (c *PostCacheCoordinator) FindNextN(ctx context.Context, n int, filter post.Filter, cursor post.Cursor) ([]post.Post, error) {
	if n <= 0 {
		return []post.Post{}, nil
	}
	if !filter.Cacheable() {
		rankedReadsTotal.WithLabelValues("store", "filter").Inc()
		return c.storeNextN(ctx, n, filter, cursor)
	}

	present, err := c.isPresent(ctx)
	if err != nil {
		rankedReadsTotal.WithLabelValues("store", "cache_error").Inc()
		return c.storeNextN(ctx, n, filter, cursor)
	}
	if !present {
		batch, err := c.Refill(ctx)
		if err != nil {
			return nil, err
		}
		rest := batch[post.SearchAfter(batch, cursor):]
		if len(rest) >= n || len(batch) < c.cache.MaxEntries() {
			rankedReadsTotal.WithLabelValues("refill", "absent").Inc()
			return head(rest, n), nil
		}
		rankedReadsTotal.WithLabelValues("store", "insufficient").Inc()
		return c.storeNextN(ctx, n, filter, cursor)
	}

	cctx, cancel := c.cacheCtx(ctx)
	posts, err := c.cache.NextN(cctx, n, cursor)
	cancel()
	if err == nil {
		rankedReadsTotal.WithLabelValues("cache", "hit").Inc()
		return posts, nil
	}
	rankedReadsTotal.WithLabelValues("store", c.degrade(ctx, "coordinator.next", err)).Inc()
	return c.storeNextN(ctx, n, filter, cursor)
}

// Refill pulls the top MaxEntries eligible posts and repopulates the cache. Concurrent
// refills in this process share one store query, which is detached from any single
// caller's cancellation; each caller still stops waiting when its own ctx ends. A store
// failure fails the refill; a populate failure is logged and the batch is still returned.
func (c *PostCacheCoordinator) Refill(ctx context.Context) ([]post.Post, error) {
	shared := context.WithoutCancel(ctx)
	ch := c.refills.DoChan(refillKey, func() (interface{}, error) {
		sctx, cancel := c.storeCtx(shared)
		defer cancel()
		batch, err := c.repo.FindTopN(sctx, c.cache.MaxEntries(), post.EligibleOnly().Visibilities)
		if err != nil {
			rankedRefillsTotal.WithLabelValues("store_error").Inc()
			if c.logger != nil {
				c.logger.WithError(err).Error("coordinator: refill query failed")
			}
			return nil, err
		}

		// a full populate is one bulk write, budgeted like the store pull
		pctx, pcancel := c.storeCtx(shared)
		defer pcancel()
		if err := c.cache.Populate(pctx, batch); err != nil {
			rankedRefillsTotal.WithLabelValues("populate_error").Inc()
			c.warn("cache.populate", 0, err)
		} else {
			rankedRefillsTotal.WithLabelValues("ok").Inc()
			if c.logger != nil {
				c.logger.WithFields(logrus.Fields{"entries": len(batch)}).Info("coordinator: ranked cache refilled")
			}
		}
		return batch, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]post.Post), nil
	case <-ctx.Done():
		return nil, post.StoreUnavailable("coordinator.refill", ctx.Err())
	}
}

func (c *PostCacheCoordinator) OnScoreChange(ctx context.Context, id int64, delta int64) {
	cctx, cancel := c.cacheCtx(ctx)
	_, err := c.cache.UpdateScore(cctx, id, delta)
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, post.ErrNotCached):
		c.LoadIfEligible(ctx, id)
	default:
		c.warn("cache.update_score", id, err)
	}
}

func (c *PostCacheCoordinator) OnVisibilityChange(ctx context.Context, id int64, becomesEligible bool) {
	if becomesEligible {
		c.LoadIfEligible(ctx, id)
		return
	}
	c.remove(ctx, id)
}

// OnContentChange rewrites the cached payload in place with the committed row. A post
// that is no longer eligible is removed; an uncached one goes through the admission check.
func (c *PostCacheCoordinator) OnContentChange(ctx context.Context, id int64) {
	p, ok := c.load(ctx, id)
	if !ok {
		return
	}
	if !p.Visibility.Eligible() {
		c.remove(ctx, id)
		return
	}

	cctx, cancel := c.cacheCtx(ctx)
	refreshed, err := c.cache.Refresh(cctx, p.Post)
	cancel()
	if err != nil {
		c.warn("cache.refresh", id, err)
		return
	}
	if !refreshed {
		c.admit(ctx, p)
	}
}

func (c *PostCacheCoordinator) OnDelete(ctx context.Context, id int64) {
	c.remove(ctx, id)
}

// LoadIfEligible inserts the stored post when it is published and either the cache has
// room or the post outranks the lowest cached score. An absent cache is left absent.
func (c *PostCacheCoordinator) LoadIfEligible(ctx context.Context, id int64) {
	p, ok := c.load(ctx, id)
	if !ok || !p.Visibility.Eligible() {
		return
	}
	c.admit(ctx, p)
}

func (c *PostCacheCoordinator) load(ctx context.Context, id int64) (*post.PostWithImage, bool) {
	sctx, cancel := c.storeCtx(ctx)
	p, err := c.repo.GetWithImageByID(sctx, id)
	cancel()
	if err != nil {
		if c.logger != nil && !post.IsKind(err, post.KindNotFound) {
			c.logger.WithFields(logrus.Fields{"post_id": id}).WithError(err).Warn("coordinator: load for cache failed")
		}
		return nil, false
	}
	return p, true
}

// admit inserts an eligible post when the cache has room or the post outranks its tail.
func (c *PostCacheCoordinator) admit(ctx context.Context, p *post.PostWithImage) {
	id := p.ID
	cctx, ccancel := c.cacheCtx(ctx)
	defer ccancel()

	present, err := c.cache.IsPresent(cctx)
	if err != nil {
		c.warn("cache.is_present", id, err)
		return
	}
	if !present {
		return
	}
	size, err := c.cache.Size(cctx)
	if err != nil {
		c.warn("cache.size", id, err)
		return
	}
	if size >= int64(c.cache.MaxEntries()) {
		lowest, ok, err := c.cache.LowestScore(cctx)
		if err != nil {
			c.warn("cache.lowest_score", id, err)
			return
		}
		if ok && p.Score <= lowest {
			return
		}
	}

	var img *post.Image
	if len(p.Image) > 0 {
		img = &post.Image{Data: p.Image, ContentType: p.ImageType}
	}
	err = c.cache.Insert(cctx, p.Post, img)
	switch {
	case err == nil:
	case errors.Is(err, post.ErrCacheAbsent):
		// expired between the presence check and the insert
	default:
		c.warn("cache.insert", id, err)
	}
}

// Image serves a post's blob from the image cache, falling back to the store.
func (c *PostCacheCoordinator) Image(ctx context.Context, id int64) (*post.Image, error) {
	cctx, cancel := c.cacheCtx(ctx)
	img, ok, err := c.cache.GetImage(cctx, id)
	cancel()
	if err != nil {
		c.warn("cache.get_image", id, err)
	} else if ok {
		return img, nil
	}

	sctx, scancel := c.storeCtx(ctx)
	p, err := c.repo.GetWithImageByID(sctx, id)
	scancel()
	if err != nil {
		return nil, err
	}
	if len(p.Image) == 0 {
		return nil, post.NotFound("coordinator.image", id)
	}
	stored := &post.Image{Data: p.Image, ContentType: p.ImageType}

	cctx, cancel = c.cacheCtx(ctx)
	defer cancel()
	if err := c.cache.SetImage(cctx, id, *stored); err != nil {
		c.warn("cache.set_image", id, err)
	}
	return stored, nil
}

func (c *PostCacheCoordinator) isPresent(ctx context.Context) (bool, error) {
	cctx, cancel := c.cacheCtx(ctx)
	defer cancel()
	present, err := c.cache.IsPresent(cctx)
	if err != nil {
		c.warn("cache.is_present", 0, err)
	}
	return present, err
}

func (c *PostCacheCoordinator) remove(ctx context.Context, id int64) {
	cctx, cancel := c.cacheCtx(ctx)
	defer cancel()
	if err := c.cache.Remove(cctx, id); err != nil {
		c.warn("cache.remove", id, err)
	}
}

// degrade classifies a failed cache read and returns the metric reason. A diverged
// snapshot drops the whole cache so the next read rebuilds it.
func (c *PostCacheCoordinator) degrade(ctx context.Context, op string, err error) string {
	if post.IsKind(err, post.KindInsufficientCache) {
		return "insufficient"
	}
	c.warn(op, 0, err)
	if errors.Is(err, post.ErrSnapshotDiverged) {
		cctx, cancel := c.cacheCtx(ctx)
		defer cancel()
		if ierr := c.cache.Invalidate(cctx); ierr != nil {
			c.warn("cache.invalidate", 0, ierr)
		}
		return "diverged"
	}
	return "cache_error"
}

func (c *PostCacheCoordinator) storeTopN(ctx context.Context, n int, filter post.Filter) ([]post.Post, error) {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	vs := filter.Distinct()
	if filter.CreatorID != nil {
		return c.repo.FindTopNByCreator(sctx, n, vs, *filter.CreatorID)
	}
	return c.repo.FindTopN(sctx, n, vs)
}

func (c *PostCacheCoordinator) storeNextN(ctx context.Context, n int, filter post.Filter, cursor post.Cursor) ([]post.Post, error) {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	vs := filter.Distinct()
	if filter.CreatorID != nil {
		return c.repo.FindNextNByCreator(sctx, n, vs, *filter.CreatorID, cursor)
	}
	return c.repo.FindNextN(sctx, n, vs, cursor)
}

func (c *PostCacheCoordinator) warn(op string, id int64, err error) {
	if c.logger == nil {
		return
	}
	fields := logrus.Fields{"op": op}
	if id != 0 {
		fields["post_id"] = id
	}
	c.logger.WithFields(fields).WithError(err).Warn("coordinator: cache call failed")
}

// head copies the first n posts so callers never share the refill batch.
func head(posts []post.Post, n int) []post.Post {
	if len(posts) > n {
		posts = posts[:n]
	}
	out := make([]post.Post, len(posts))
	copy(out, posts)
	return out
}

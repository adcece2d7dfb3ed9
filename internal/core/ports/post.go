package ports

import (
	"context"

	"github.com/avatarctic/ranked-posts/internal/core/domain/auth"
	"github.com/avatarctic/ranked-posts/internal/core/domain/post"
	"github.com/google/uuid"
)

// PostRepository is the authoritative store of posts. Ranking reads return posts in
// canonical order (score desc, id desc).
type PostRepository interface {
	Create(ctx context.Context, p *post.PostWithImage) error
	GetByID(ctx context.Context, id int64) (*post.Post, error)
	// GetWithImageByID loads the post together with its blob, if any.
	GetWithImageByID(ctx context.Context, id int64) (*post.PostWithImage, error)
	Update(ctx context.Context, p *post.Post) error
	Delete(ctx context.Context, id int64) error

	FindTopN(ctx context.Context, limit int, visibilities []post.Visibility) ([]post.Post, error)
	FindNextN(ctx context.Context, limit int, visibilities []post.Visibility, cursor post.Cursor) ([]post.Post, error)
	FindTopNByCreator(ctx context.Context, limit int, visibilities []post.Visibility, creatorID uuid.UUID) ([]post.Post, error)
	FindNextNByCreator(ctx context.Context, limit int, visibilities []post.Visibility, creatorID uuid.UUID, cursor post.Cursor) ([]post.Post, error)

	// AddScoreDelta and SetVisibility report the number of rows changed; 0 means not found.
	AddScoreDelta(ctx context.Context, id int64, delta int64) (int64, error)
	SetVisibility(ctx context.Context, id int64, v post.Visibility) (int64, error)
}

// RankedCache is a bounded, best-effort top-K cache of eligible posts. Every mutating
// call is one batched round trip; calls are not linearizable with each other.
type RankedCache interface {
	// Populate atomically replaces the ranked set and snapshot and resets the shared TTL.
	Populate(ctx context.Context, posts []post.Post) error
	// IsPresent is true iff both the ranked set and the snapshot exist.
	IsPresent(ctx context.Context) (bool, error)
	// TopN returns the n best posts, or a KindInsufficientCache error when fewer are cached.
	TopN(ctx context.Context, n int) ([]post.Post, error)
	// NextN returns up to n posts strictly after cursor, or KindInsufficientCache.
	NextN(ctx context.Context, n int, cursor post.Cursor) ([]post.Post, error)
	// UpdateScore increments a cached score; post.ErrNotCached when the id is absent.
	UpdateScore(ctx context.Context, id int64, delta int64) (int64, error)
	// Insert adds one post (and its image, if any); post.ErrCacheAbsent when no cache exists.
	Insert(ctx context.Context, p post.Post, img *post.Image) error
	// Refresh overwrites the payload and score of a cached post; false when it is not cached.
	Refresh(ctx context.Context, p post.Post) (bool, error)
	Remove(ctx context.Context, id int64) error
	// LowestScore returns ok=false when the cache is empty.
	LowestScore(ctx context.Context) (score int64, ok bool, err error)
	Size(ctx context.Context) (int64, error)
	// Invalidate drops the ranked set and snapshot.
	Invalidate(ctx context.Context) error

	GetImage(ctx context.Context, id int64) (*post.Image, bool, error)
	SetImage(ctx context.Context, id int64, img post.Image) error

	// MaxEntries is the steady-state capacity of the ranked set.
	MaxEntries() int
}

// PostCoordinator routes ranking reads between cache and store and propagates
// store writes into the cache. Cache failures never surface from the On* calls.
type PostCoordinator interface {
	FindTopN(ctx context.Context, n int, filter post.Filter) ([]post.Post, error)
	FindNextN(ctx context.Context, n int, filter post.Filter, cursor post.Cursor) ([]post.Post, error)
	Refill(ctx context.Context) ([]post.Post, error)

	OnScoreChange(ctx context.Context, id int64, delta int64)
	OnVisibilityChange(ctx context.Context, id int64, becomesEligible bool)
	OnContentChange(ctx context.Context, id int64)
	OnDelete(ctx context.Context, id int64)
	LoadIfEligible(ctx context.Context, id int64)

	Image(ctx context.Context, id int64) (*post.Image, error)
}

// PostService defines the post business operations
type PostService interface {
	CreatePost(ctx context.Context, principal auth.Principal, req *post.CreatePostRequest) (*post.Post, error)
	GetPost(ctx context.Context, principal auth.Principal, id int64) (*post.Post, error)
	ListPosts(ctx context.Context, principal auth.Principal, q post.ListQuery) (*post.Page, error)
	UpdatePost(ctx context.Context, principal auth.Principal, id int64, req *post.UpdatePostRequest) (*post.Post, error)
	DeletePost(ctx context.Context, principal auth.Principal, id int64) error
	Vote(ctx context.Context, principal auth.Principal, id int64) error
	Unvote(ctx context.Context, principal auth.Principal, id int64) error
	ChangeVisibility(ctx context.Context, principal auth.Principal, id int64, v post.Visibility) error
	GetImage(ctx context.Context, principal auth.Principal, id int64) (*post.Image, error)
}

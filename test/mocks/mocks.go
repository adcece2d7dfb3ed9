package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/avatarctic/ranked-posts/internal/core/domain/auth"
	"github.com/avatarctic/ranked-posts/internal/core/domain/post"
	"github.com/avatarctic/ranked-posts/internal/core/ports"
)

var (
	_ ports.PostRepository      = (*PostRepositoryMock)(nil)
	_ ports.RankedCache         = (*RankedCacheMock)(nil)
	_ ports.PostCoordinator     = (*PostCoordinatorMock)(nil)
	_ ports.PostService         = (*PostServiceMock)(nil)
	_ ports.TokenVerifier       = (*TokenVerifierMock)(nil)
	_ ports.RateLimiterService  = (*RateLimiterServiceMock)(nil)
	_ ports.RateLimitRepository = (*RateLimitRepositoryMock)(nil)
)

// PostRepositoryMock is a lightweight mock for PostRepository
type PostRepositoryMock struct {
	CreateFn             func(ctx context.Context, p *post.PostWithImage) error
	GetByIDFn            func(ctx context.Context, id int64) (*post.Post, error)
	GetWithImageByIDFn   func(ctx context.Context, id int64) (*post.PostWithImage, error)
	UpdateFn             func(ctx context.Context, p *post.Post) error
	DeleteFn             func(ctx context.Context, id int64) error
	FindTopNFn           func(ctx context.Context, limit int, visibilities []post.Visibility) ([]post.Post, error)
	FindNextNFn          func(ctx context.Context, limit int, visibilities []post.Visibility, cursor post.Cursor) ([]post.Post, error)
	FindTopNByCreatorFn  func(ctx context.Context, limit int, visibilities []post.Visibility, creatorID uuid.UUID) ([]post.Post, error)
	FindNextNByCreatorFn func(ctx context.Context, limit int, visibilities []post.Visibility, creatorID uuid.UUID, cursor post.Cursor) ([]post.Post, error)
	AddScoreDeltaFn      func(ctx context.Context, id int64, delta int64) (int64, error)
	SetVisibilityFn      func(ctx context.Context, id int64, v post.Visibility) (int64, error)
}

func (m *PostRepositoryMock) Create(ctx context.Context, p *post.PostWithImage) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, p)
	}
	return nil
}
func (m *PostRepositoryMock) GetByID(ctx context.Context, id int64) (*post.Post, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	return nil, post.NotFound("mock.get", id)
}
func (m *PostRepositoryMock) GetWithImageByID(ctx context.Context, id int64) (*post.PostWithImage, error) {
	if m.GetWithImageByIDFn != nil {
		return m.GetWithImageByIDFn(ctx, id)
	}
	return nil, post.NotFound("mock.get_with_image", id)
}
func (m *PostRepositoryMock) Update(ctx context.Context, p *post.Post) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, p)
	}
	return nil
}
func (m *PostRepositoryMock) Delete(ctx context.Context, id int64) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, id)
	}
	return nil
}
func (m *PostRepositoryMock) FindTopN(ctx context.Context, limit int, visibilities []post.Visibility) ([]post.Post, error) {
	if m.FindTopNFn != nil {
		return m.FindTopNFn(ctx, limit, visibilities)
	}
	return []post.Post{}, nil
}
func (m *PostRepositoryMock) FindNextN(ctx context.Context, limit int, visibilities []post.Visibility, cursor post.Cursor) ([]post.Post, error) {
	if m.FindNextNFn != nil {
		return m.FindNextNFn(ctx, limit, visibilities, cursor)
	}
	return []post.Post{}, nil
}
func (m *PostRepositoryMock) FindTopNByCreator(ctx context.Context, limit int, visibilities []post.Visibility, creatorID uuid.UUID) ([]post.Post, error) {
	if m.FindTopNByCreatorFn != nil {
		return m.FindTopNByCreatorFn(ctx, limit, visibilities, creatorID)
	}
	return []post.Post{}, nil
}
func (m *PostRepositoryMock) FindNextNByCreator(ctx context.Context, limit int, visibilities []post.Visibility, creatorID uuid.UUID, cursor post.Cursor) ([]post.Post, error) {
	if m.FindNextNByCreatorFn != nil {
		return m.FindNextNByCreatorFn(ctx, limit, visibilities, creatorID, cursor)
	}
	return []post.Post{}, nil
}
func (m *PostRepositoryMock) AddScoreDelta(ctx context.Context, id int64, delta int64) (int64, error) {
	if m.AddScoreDeltaFn != nil {
		return m.AddScoreDeltaFn(ctx, id, delta)
	}
	return 1, nil
}
func (m *PostRepositoryMock) SetVisibility(ctx context.Context, id int64, v post.Visibility) (int64, error) {
	if m.SetVisibilityFn != nil {
		return m.SetVisibilityFn(ctx, id, v)
	}
	return 1, nil
}

// RankedCacheMock is a lightweight mock for RankedCache; by default it behaves like an absent cache.
type RankedCacheMock struct {
	PopulateFn    func(ctx context.Context, posts []post.Post) error
	IsPresentFn   func(ctx context.Context) (bool, error)
	TopNFn        func(ctx context.Context, n int) ([]post.Post, error)
	NextNFn       func(ctx context.Context, n int, cursor post.Cursor) ([]post.Post, error)
	UpdateScoreFn func(ctx context.Context, id int64, delta int64) (int64, error)
	InsertFn      func(ctx context.Context, p post.Post, img *post.Image) error
	RefreshFn     func(ctx context.Context, p post.Post) (bool, error)
	RemoveFn      func(ctx context.Context, id int64) error
	LowestScoreFn func(ctx context.Context) (int64, bool, error)
	SizeFn        func(ctx context.Context) (int64, error)
	InvalidateFn  func(ctx context.Context) error
	GetImageFn    func(ctx context.Context, id int64) (*post.Image, bool, error)
	SetImageFn    func(ctx context.Context, id int64, img post.Image) error
	Max           int
}

func (m *RankedCacheMock) Populate(ctx context.Context, posts []post.Post) error {
	if m.PopulateFn != nil {
		return m.PopulateFn(ctx, posts)
	}
	return nil
}
func (m *RankedCacheMock) IsPresent(ctx context.Context) (bool, error) {
	if m.IsPresentFn != nil {
		return m.IsPresentFn(ctx)
	}
	return false, nil
}
func (m *RankedCacheMock) TopN(ctx context.Context, n int) ([]post.Post, error) {
	if m.TopNFn != nil {
		return m.TopNFn(ctx, n)
	}
	return nil, post.Insufficient("mock.top")
}
func (m *RankedCacheMock) NextN(ctx context.Context, n int, cursor post.Cursor) ([]post.Post, error) {
	if m.NextNFn != nil {
		return m.NextNFn(ctx, n, cursor)
	}
	return nil, post.Insufficient("mock.next")
}
func (m *RankedCacheMock) UpdateScore(ctx context.Context, id int64, delta int64) (int64, error) {
	if m.UpdateScoreFn != nil {
		return m.UpdateScoreFn(ctx, id, delta)
	}
	return 0, post.ErrNotCached
}
func (m *RankedCacheMock) Insert(ctx context.Context, p post.Post, img *post.Image) error {
	if m.InsertFn != nil {
		return m.InsertFn(ctx, p, img)
	}
	return post.ErrCacheAbsent
}
func (m *RankedCacheMock) Refresh(ctx context.Context, p post.Post) (bool, error) {
	if m.RefreshFn != nil {
		return m.RefreshFn(ctx, p)
	}
	return false, nil
}
func (m *RankedCacheMock) Remove(ctx context.Context, id int64) error {
	if m.RemoveFn != nil {
		return m.RemoveFn(ctx, id)
	}
	return nil
}
func (m *RankedCacheMock) LowestScore(ctx context.Context) (int64, bool, error) {
	if m.LowestScoreFn != nil {
		return m.LowestScoreFn(ctx)
	}
	return 0, false, nil
}
func (m *RankedCacheMock) Size(ctx context.Context) (int64, error) {
	if m.SizeFn != nil {
		return m.SizeFn(ctx)
	}
	return 0, nil
}
func (m *RankedCacheMock) Invalidate(ctx context.Context) error {
	if m.InvalidateFn != nil {
		return m.InvalidateFn(ctx)
	}
	return nil
}
func (m *RankedCacheMock) GetImage(ctx context.Context, id int64) (*post.Image, bool, error) {
	if m.GetImageFn != nil {
		return m.GetImageFn(ctx, id)
	}
	return nil, false, nil
}
func (m *RankedCacheMock) SetImage(ctx context.Context, id int64, img post.Image) error {
	if m.SetImageFn != nil {
		return m.SetImageFn(ctx, id, img)
	}
	return nil
}
func (m *RankedCacheMock) MaxEntries() int {
	if m.Max > 0 {
		return m.Max
	}
	return 10000
}

// PostCoordinatorMock is a lightweight mock for PostCoordinator
type PostCoordinatorMock struct {
	FindTopNFn           func(ctx context.Context, n int, filter post.Filter) ([]post.Post, error)
	FindNextNFn          func(ctx context.Context, n int, filter post.Filter, cursor post.Cursor) ([]post.Post, error)
	RefillFn             func(ctx context.Context) ([]post.Post, error)
	OnScoreChangeFn      func(ctx context.Context, id int64, delta int64)
	OnVisibilityChangeFn func(ctx context.Context, id int64, becomesEligible bool)
	OnContentChangeFn    func(ctx context.Context, id int64)
	OnDeleteFn           func(ctx context.Context, id int64)
	LoadIfEligibleFn     func(ctx context.Context, id int64)
	ImageFn              func(ctx context.Context, id int64) (*post.Image, error)
}

func (m *PostCoordinatorMock) FindTopN(ctx context.Context, n int, filter post.Filter) ([]post.Post, error) {
	if m.FindTopNFn != nil {
		return m.FindTopNFn(ctx, n, filter)
	}
	return []post.Post{}, nil
}
func (m *PostCoordinatorMock) FindNextN(ctx context.Context, n int, filter post.Filter, cursor post.Cursor) ([]post.Post, error) {
	if m.FindNextNFn != nil {
		return m.FindNextNFn(ctx, n, filter, cursor)
	}
	return []post.Post{}, nil
}
func (m *PostCoordinatorMock) Refill(ctx context.Context) ([]post.Post, error) {
	if m.RefillFn != nil {
		return m.RefillFn(ctx)
	}
	return []post.Post{}, nil
}
func (m *PostCoordinatorMock) OnScoreChange(ctx context.Context, id int64, delta int64) {
	if m.OnScoreChangeFn != nil {
		m.OnScoreChangeFn(ctx, id, delta)
	}
}
func (m *PostCoordinatorMock) OnVisibilityChange(ctx context.Context, id int64, becomesEligible bool) {
	if m.OnVisibilityChangeFn != nil {
		m.OnVisibilityChangeFn(ctx, id, becomesEligible)
	}
}
func (m *PostCoordinatorMock) OnContentChange(ctx context.Context, id int64) {
	if m.OnContentChangeFn != nil {
		m.OnContentChangeFn(ctx, id)
	}
}
func (m *PostCoordinatorMock) OnDelete(ctx context.Context, id int64) {
	if m.OnDeleteFn != nil {
		m.OnDeleteFn(ctx, id)
	}
}
func (m *PostCoordinatorMock) LoadIfEligible(ctx context.Context, id int64) {
	if m.LoadIfEligibleFn != nil {
		m.LoadIfEligibleFn(ctx, id)
	}
}
func (m *PostCoordinatorMock) Image(ctx context.Context, id int64) (*post.Image, error) {
	if m.ImageFn != nil {
		return m.ImageFn(ctx, id)
	}
	return nil, post.NotFound("mock.image", id)
}

// PostServiceMock is a lightweight mock for PostService
type PostServiceMock struct {
	CreatePostFn       func(ctx context.Context, principal auth.Principal, req *post.CreatePostRequest) (*post.Post, error)
	GetPostFn          func(ctx context.Context, principal auth.Principal, id int64) (*post.Post, error)
	ListPostsFn        func(ctx context.Context, principal auth.Principal, q post.ListQuery) (*post.Page, error)
	UpdatePostFn       func(ctx context.Context, principal auth.Principal, id int64, req *post.UpdatePostRequest) (*post.Post, error)
	DeletePostFn       func(ctx context.Context, principal auth.Principal, id int64) error
	VoteFn             func(ctx context.Context, principal auth.Principal, id int64) error
	UnvoteFn           func(ctx context.Context, principal auth.Principal, id int64) error
	ChangeVisibilityFn func(ctx context.Context, principal auth.Principal, id int64, v post.Visibility) error
	GetImageFn         func(ctx context.Context, principal auth.Principal, id int64) (*post.Image, error)
}

func (m *PostServiceMock) CreatePost(ctx context.Context, principal auth.Principal, req *post.CreatePostRequest) (*post.Post, error) {
	if m.CreatePostFn != nil {
		return m.CreatePostFn(ctx, principal, req)
	}
	return &post.Post{}, nil
}
func (m *PostServiceMock) GetPost(ctx context.Context, principal auth.Principal, id int64) (*post.Post, error) {
	if m.GetPostFn != nil {
		return m.GetPostFn(ctx, principal, id)
	}
	return nil, post.NotFound("mock.get", id)
}
func (m *PostServiceMock) ListPosts(ctx context.Context, principal auth.Principal, q post.ListQuery) (*post.Page, error) {
	if m.ListPostsFn != nil {
		return m.ListPostsFn(ctx, principal, q)
	}
	return post.NewPage(nil, q.Size), nil
}
func (m *PostServiceMock) UpdatePost(ctx context.Context, principal auth.Principal, id int64, req *post.UpdatePostRequest) (*post.Post, error) {
	if m.UpdatePostFn != nil {
		return m.UpdatePostFn(ctx, principal, id, req)
	}
	return &post.Post{ID: id}, nil
}
func (m *PostServiceMock) DeletePost(ctx context.Context, principal auth.Principal, id int64) error {
	if m.DeletePostFn != nil {
		return m.DeletePostFn(ctx, principal, id)
	}
	return nil
}
func (m *PostServiceMock) Vote(ctx context.Context, principal auth.Principal, id int64) error {
	if m.VoteFn != nil {
		return m.VoteFn(ctx, principal, id)
	}
	return nil
}
func (m *PostServiceMock) Unvote(ctx context.Context, principal auth.Principal, id int64) error {
	if m.UnvoteFn != nil {
		return m.UnvoteFn(ctx, principal, id)
	}
	return nil
}
func (m *PostServiceMock) ChangeVisibility(ctx context.Context, principal auth.Principal, id int64, v post.Visibility) error {
	if m.ChangeVisibilityFn != nil {
		return m.ChangeVisibilityFn(ctx, principal, id, v)
	}
	return nil
}
func (m *PostServiceMock) GetImage(ctx context.Context, principal auth.Principal, id int64) (*post.Image, error) {
	if m.GetImageFn != nil {
		return m.GetImageFn(ctx, principal, id)
	}
	return nil, post.NotFound("mock.image", id)
}

// TokenVerifierMock is a lightweight mock for TokenVerifier
type TokenVerifierMock struct {
	VerifyFn func(ctx context.Context, token string) (auth.Principal, error)
}

func (m *TokenVerifierMock) Verify(ctx context.Context, token string) (auth.Principal, error) {
	if m.VerifyFn != nil {
		return m.VerifyFn(ctx, token)
	}
	return auth.Anonymous(), nil
}

// RateLimiterServiceMock is a lightweight mock for RateLimiterService
type RateLimiterServiceMock struct {
	AllowFn func(ctx context.Context, subject string) (ports.RateDecision, error)
}

func (m *RateLimiterServiceMock) Allow(ctx context.Context, subject string) (ports.RateDecision, error) {
	if m.AllowFn != nil {
		return m.AllowFn(ctx, subject)
	}
	return ports.RateDecision{Allowed: true, Remaining: 1, Limit: 1, Reset: time.Now().Add(time.Minute)}, nil
}

// RateLimitRepositoryMock is a lightweight mock for RateLimitRepository
type RateLimitRepositoryMock struct {
	IncrementWindowFn func(ctx context.Context, subject string, window time.Duration, keyPrefix string, ttl time.Duration) (int, time.Time, error)
}

func (m *RateLimitRepositoryMock) IncrementWindow(ctx context.Context, subject string, window time.Duration, keyPrefix string, ttl time.Duration) (int, time.Time, error) {
	if m.IncrementWindowFn != nil {
		return m.IncrementWindowFn(ctx, subject, window, keyPrefix, ttl)
	}
	return 1, time.Now().Truncate(window), nil
}

package services

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ranked-posts/internal/core/domain/auth"
	"github.com/avatarctic/ranked-posts/internal/core/domain/post"
	"github.com/avatarctic/ranked-posts/internal/core/ports"
)

const (
	maxTitleLength = 300
	maxSlugLength  = 120
)

var (
	slugPattern  = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	slugStripper = regexp.MustCompile(`[^a-z0-9]+`)
)

// PageConfig bounds list page sizes.
type PageConfig struct {
	DefaultSize int
	MaxSize     int
}

type PostService struct {
	repo        ports.PostRepository
	coordinator ports.PostCoordinator
	pages       PageConfig
	logger      *logrus.Logger
}

var _ ports.PostService = (*PostService)(nil)

func NewPostService(repo ports.PostRepository, coordinator ports.PostCoordinator, pages *PageConfig, logger *logrus.Logger) *PostService {
	pc := PageConfig{DefaultSize: post.DefaultPageSize, MaxSize: 500}
	if pages != nil {
		if pages.DefaultSize > 0 {
			pc.DefaultSize = pages.DefaultSize
		}
		if pages.MaxSize > 0 {
			pc.MaxSize = pages.MaxSize
		}
	}
	if pc.DefaultSize > pc.MaxSize {
		pc.DefaultSize = pc.MaxSize
	}
	return &PostService{repo: repo, coordinator: coordinator, pages: pc, logger: logger}
}

func (s *PostService) CreatePost(ctx context.Context, principal auth.Principal, req *post.CreatePostRequest) (*post.Post, error) {
	const op = "post.create"
	if principal.IsAnonymous() {
		return nil, post.Forbidden(op)
	}
	if err := validateTitle(op, req.Title); err != nil {
		return nil, err
	}

	visibility := req.Visibility
	if visibility == "" {
		visibility = post.VisibilityPublished
	}
	if !visibility.IsValid() {
		return nil, post.InvalidInput(op, "visibility", "unknown visibility")
	}
	if visibility == post.VisibilityRemoved && !principal.IsAdmin() {
		return nil, post.Forbidden(op)
	}

	slug := req.Slug
	if slug == "" {
		slug = slugify(req.Title)
	} else if err := validateSlug(op, slug); err != nil {
		return nil, err
	}

	imageType := req.ImageType
	if len(req.Image) > 0 && imageType == "" {
		imageType = http.DetectContentType(req.Image)
	}

	now := time.Now().UTC()
	p := &post.PostWithImage{
		Post: post.Post{
			CreatorID:  principal.UserID,
			Slug:       slug,
			Title:      strings.TrimSpace(req.Title),
			Body:       req.Body,
			Visibility: visibility,
			HasImage:   len(req.Image) > 0,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
	if p.HasImage {
		p.Image = req.Image
		p.ImageType = imageType
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	if p.Visibility.Eligible() {
		s.coordinator.LoadIfEligible(ctx, p.ID)
	}
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"post_id": p.ID, "creator_id": p.CreatorID, "visibility": p.Visibility}).Info("post created")
	}
	return &p.Post, nil
}

func (s *PostService) GetPost(ctx context.Context, principal auth.Principal, id int64) (*post.Post, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(principal, p) {
		return nil, post.NotFound("post.get", id)
	}
	return p, nil
}

func (s *PostService) ListPosts(ctx context.Context, principal auth.Principal, q post.ListQuery) (*post.Page, error) {
	const op = "post.list"
	size := q.Size
	switch {
	case size < 0:
		return nil, post.InvalidInput(op, "size", "size must be positive")
	case size == 0:
		size = s.pages.DefaultSize
	case size > s.pages.MaxSize:
		size = s.pages.MaxSize
	}

	filter := q.Filter
	if len(filter.Visibilities) == 0 {
		filter.Visibilities = post.EligibleOnly().Visibilities
	}
	for _, v := range filter.Visibilities {
		if !v.IsValid() {
			return nil, post.InvalidInput(op, "visibility", "unknown visibility "+v.String())
		}
		if v.Eligible() || principal.IsAdmin() {
			continue
		}
		if filter.CreatorID == nil || !principal.Owns(*filter.CreatorID) {
			return nil, post.Forbidden(op)
		}
	}

	var (
		items []post.Post
		err   error
	)
	if q.Cursor == nil {
		items, err = s.coordinator.FindTopN(ctx, size, filter)
	} else {
		items, err = s.coordinator.FindNextN(ctx, size, filter, *q.Cursor)
	}
	if err != nil {
		return nil, err
	}
	return post.NewPage(items, size), nil
}

func (s *PostService) UpdatePost(ctx context.Context, principal auth.Principal, id int64, req *post.UpdatePostRequest) (*post.Post, error) {
	const op = "post.update"
	p, err := s.editable(ctx, op, principal, id)
	if err != nil {
		return nil, err
	}
	if req.Admin != nil && !principal.IsAdmin() {
		return nil, post.Forbidden(op)
	}

	if req.Title != nil {
		if err := validateTitle(op, *req.Title); err != nil {
			return nil, err
		}
		p.Title = strings.TrimSpace(*req.Title)
	}
	if req.Body != nil {
		p.Body = *req.Body
	}
	if req.Admin != nil {
		if req.Admin.Slug != nil {
			if err := validateSlug(op, *req.Admin.Slug); err != nil {
				return nil, err
			}
			p.Slug = *req.Admin.Slug
		}
		if req.Admin.Visibility != nil {
			if !req.Admin.Visibility.IsValid() {
				return nil, post.InvalidInput(op, "visibility", "unknown visibility")
			}
			p.Visibility = *req.Admin.Visibility
		}
	}
	p.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	s.coordinator.OnContentChange(ctx, id)
	return p, nil
}

func (s *PostService) DeletePost(ctx context.Context, principal auth.Principal, id int64) error {
	if _, err := s.editable(ctx, "post.delete", principal, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.coordinator.OnDelete(ctx, id)
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{"post_id": id, "user_id": principal.UserID}).Info("post deleted")
	}
	return nil
}

func (s *PostService) Vote(ctx context.Context, principal auth.Principal, id int64) error {
	return s.addScore(ctx, "post.vote", principal, id, 1)
}

func (s *PostService) Unvote(ctx context.Context, principal auth.Principal, id int64) error {
	return s.addScore(ctx, "post.unvote", principal, id, -1)
}

func (s *PostService) addScore(ctx context.Context, op string, principal auth.Principal, id int64, delta int64) error {
	if principal.IsAnonymous() {
		return post.Forbidden(op)
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !canView(principal, p) {
		return post.NotFound(op, id)
	}
	n, err := s.repo.AddScoreDelta(ctx, id, delta)
	if err != nil {
		return err
	}
	if n == 0 {
		return post.NotFound(op, id)
	}
	s.coordinator.OnScoreChange(ctx, id, delta)
	return nil
}

// ChangeVisibility moves a post between states. Only admins may enter or leave Removed.
func (s *PostService) ChangeVisibility(ctx context.Context, principal auth.Principal, id int64, v post.Visibility) error {
	const op = "post.change_visibility"
	if !v.IsValid() {
		return post.InvalidInput(op, "visibility", "unknown visibility")
	}
	p, err := s.editable(ctx, op, principal, id)
	if err != nil {
		return err
	}
	if (v == post.VisibilityRemoved || p.Visibility == post.VisibilityRemoved) && !principal.IsAdmin() {
		return post.Forbidden(op)
	}
	n, err := s.repo.SetVisibility(ctx, id, v)
	if err != nil {
		return err
	}
	if n == 0 {
		return post.NotFound(op, id)
	}
	s.coordinator.OnVisibilityChange(ctx, id, v.Eligible())
	return nil
}

func (s *PostService) GetImage(ctx context.Context, principal auth.Principal, id int64) (*post.Image, error) {
	p, err := s.GetPost(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	if !p.HasImage {
		return nil, post.NotFound("post.image", id)
	}
	return s.coordinator.Image(ctx, id)
}

// editable loads a post the principal may change; others see NotFound or Forbidden.
func (s *PostService) editable(ctx context.Context, op string, principal auth.Principal, id int64) (*post.Post, error) {
	if principal.IsAnonymous() {
		return nil, post.Forbidden(op)
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if principal.IsAdmin() || principal.Owns(p.CreatorID) {
		return p, nil
	}
	if canView(principal, p) {
		return nil, post.Forbidden(op)
	}
	return nil, post.NotFound(op, id)
}

func canView(principal auth.Principal, p *post.Post) bool {
	return p.Visibility.Eligible() || principal.IsAdmin() || principal.Owns(p.CreatorID)
}

func validateTitle(op, title string) error {
	t := strings.TrimSpace(title)
	if t == "" {
		return post.InvalidInput(op, "title", "title is required")
	}
	if len(t) > maxTitleLength {
		return post.InvalidInput(op, "title", "title is too long")
	}
	return nil
}

func validateSlug(op, slug string) error {
	if len(slug) > maxSlugLength || !slugPattern.MatchString(slug) {
		return post.InvalidInput(op, "slug", "slug must be lowercase words joined by dashes")
	}
	return nil
}

// slugify derives a slug from the title plus a short random suffix.
func slugify(title string) string {
	base := strings.Trim(slugStripper.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if len(base) > maxSlugLength-9 {
		base = strings.Trim(base[:maxSlugLength-9], "-")
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if base == "" {
		return suffix
	}
	return base + "-" + suffix
}

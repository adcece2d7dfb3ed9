package post

import (
	"time"

	"github.com/google/uuid"
)

// Post is a scored item ranked by Score. IDs are assigned by the store and grow monotonically.
type Post struct {
	ID         int64      `json:"id" db:"id" msgpack:"id"`
	CreatorID  uuid.UUID  `json:"creator_id" db:"creator_id" msgpack:"creator_id"`
	Slug       string     `json:"slug" db:"slug" msgpack:"slug"`
	Title      string     `json:"title" db:"title" msgpack:"title"`
	Body       string     `json:"body" db:"body" msgpack:"body"`
	Score      int64      `json:"score" db:"score" msgpack:"score"`
	Visibility Visibility `json:"visibility" db:"visibility" msgpack:"visibility"`
	HasImage   bool       `json:"has_image" db:"has_image" msgpack:"has_image"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at" msgpack:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at" msgpack:"updated_at"`
}

// PostWithImage carries the optional blob next to the post row.
type PostWithImage struct {
	Post
	Image     []byte `json:"-" db:"image"`
	ImageType string `json:"-" db:"image_type"`
}

// Image is a cached or stored blob.
type Image struct {
	Data        []byte
	ContentType string
}

type Visibility string

const (
	VisibilityPublished Visibility = "published"
	VisibilityHidden    Visibility = "hidden"
	VisibilityDraft     Visibility = "draft"
	VisibilityRemoved   Visibility = "removed"
)

func (v Visibility) String() string {
	return string(v)
}

func (v Visibility) IsValid() bool {
	switch v {
	case VisibilityPublished, VisibilityHidden, VisibilityDraft, VisibilityRemoved:
		return true
	default:
		return false
	}
}

// Eligible reports whether posts in this state may appear in the ranked cache.
func (v Visibility) Eligible() bool {
	return v == VisibilityPublished
}

// CreatePostRequest represents the request to create a post
type CreatePostRequest struct {
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	Slug       string     `json:"slug"`
	Visibility Visibility `json:"visibility"`
	Image      []byte     `json:"image,omitempty"`
	ImageType  string     `json:"image_type,omitempty"`
}

// UpdatePostRequest holds the fields any creator may change. Admin carries the
// moderator-only extension and is rejected for non-admin principals.
type UpdatePostRequest struct {
	Title *string          `json:"title,omitempty"`
	Body  *string          `json:"body,omitempty"`
	Admin *AdminPostFields `json:"admin,omitempty"`
}

// AdminPostFields are the privileged update fields.
type AdminPostFields struct {
	Slug       *string     `json:"slug,omitempty"`
	Visibility *Visibility `json:"visibility,omitempty"`
}

// ChangeVisibilityRequest represents the request to move a post between visibility states
type ChangeVisibilityRequest struct {
	Visibility Visibility `json:"visibility"`
}

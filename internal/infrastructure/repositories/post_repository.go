package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ranked-posts/internal/core/domain/post"
	"github.com/avatarctic/ranked-posts/internal/core/ports"
	"github.com/avatarctic/ranked-posts/internal/infrastructure/db"
)

const postsTable = "posts"

var postColumns = []string{
	"id", "creator_id", "slug", "title", "body", "score", "visibility",
	"(image IS NOT NULL) AS has_image", "created_at", "updated_at",
}

// uniqueConstraintFields maps unique constraint names to the field they protect.
var uniqueConstraintFields = map[string]string{
	"posts_slug_key": "slug",
}

const (
	pqUniqueViolation = "23505"
	pqCheckViolation  = "23514"
)

// PostRepository implements the post repository interface on Postgres.
type PostRepository struct {
	db     *db.Database
	qb     sq.StatementBuilderType
	logger *logrus.Logger
}

// NewPostRepository creates a new post repository
func NewPostRepository(database *db.Database, logger *logrus.Logger) *PostRepository {
	return &PostRepository{
		db:     database,
		qb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		logger: logger,
	}
}

var _ ports.PostRepository = (*PostRepository)(nil)

// Create inserts a post and fills in the generated id and timestamps.
func (r *PostRepository) Create(ctx context.Context, p *post.PostWithImage) error {
	var image any
	if len(p.Image) > 0 {
		image = p.Image
	}
	q := r.qb.Insert(postsTable).
		Columns("creator_id", "slug", "title", "body", "score", "visibility", "image", "image_type").
		Values(p.CreatorID, p.Slug, p.Title, p.Body, p.Score, string(p.Visibility), image, p.ImageType).
		Suffix("RETURNING id, created_at, updated_at")

	query, args, err := q.ToSql()
	if err != nil {
		return post.StoreUnavailable("db.create", err)
	}
	if err := r.db.DB.QueryRowxContext(ctx, query, args...).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if cerr := classifyConstraint("db.create", err); cerr != nil {
			if r.logger != nil {
				r.logger.WithFields(logrus.Fields{"slug": p.Slug}).WithError(err).Debug("db: post create rejected by constraint")
			}
			return cerr
		}
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"slug": p.Slug, "creator_id": p.CreatorID}).WithError(err).Error("db: failed to create post")
		}
		return post.StoreUnavailable("db.create", err)
	}
	p.HasImage = image != nil
	if r.logger != nil {
		r.logger.WithFields(logrus.Fields{"post_id": p.ID, "creator_id": p.CreatorID}).Info("db: post created")
	}
	return nil
}

// GetByID retrieves a post by ID
func (r *PostRepository) GetByID(ctx context.Context, id int64) (*post.Post, error) {
	query, args, err := r.qb.Select(postColumns...).From(postsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, post.StoreUnavailable("db.get", err)
	}

	var p post.Post
	if err := r.db.DB.GetContext(ctx, &p, query, args...); err != nil {
		return nil, r.readError("db.get", id, err)
	}
	return &p, nil
}

// GetWithImageByID retrieves a post together with its image bytes.
func (r *PostRepository) GetWithImageByID(ctx context.Context, id int64) (*post.PostWithImage, error) {
	cols := append(append([]string{}, postColumns...), "COALESCE(image, ''::bytea) AS image", "image_type")
	query, args, err := r.qb.Select(cols...).From(postsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, post.StoreUnavailable("db.get_with_image", err)
	}

	var p post.PostWithImage
	if err := r.db.DB.GetContext(ctx, &p, query, args...); err != nil {
		return nil, r.readError("db.get_with_image", id, err)
	}
	return &p, nil
}

// Update writes the mutable fields of a post.
func (r *PostRepository) Update(ctx context.Context, p *post.Post) error {
	p.UpdatedAt = time.Now()
	query, args, err := r.qb.Update(postsTable).
		Set("slug", p.Slug).
		Set("title", p.Title).
		Set("body", p.Body).
		Set("visibility", string(p.Visibility)).
		Set("updated_at", p.UpdatedAt).
		Where(sq.Eq{"id": p.ID}).
		ToSql()
	if err != nil {
		return post.StoreUnavailable("db.update", err)
	}

	result, err := r.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		if cerr := classifyConstraint("db.update", err); cerr != nil {
			return cerr
		}
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"post_id": p.ID}).WithError(err).Error("db: failed to update post")
		}
		return post.StoreUnavailable("db.update", err)
	}
	n, err := r.rowsAffected("db.update", p.ID, result)
	if err != nil {
		return err
	}
	if n == 0 {
		return post.NotFound("db.update", p.ID)
	}
	return nil
}

// Delete deletes a post by ID
func (r *PostRepository) Delete(ctx context.Context, id int64) error {
	query, args, err := r.qb.Delete(postsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return post.StoreUnavailable("db.delete", err)
	}
	result, err := r.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"post_id": id}).WithError(err).Error("db: failed to delete post")
		}
		return post.StoreUnavailable("db.delete", err)
	}
	n, err := r.rowsAffected("db.delete", id, result)
	if err != nil {
		return err
	}
	if n == 0 {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"post_id": id}).Debug("db: delete affected 0 rows - post not found")
		}
		return post.NotFound("db.delete", id)
	}
	return nil
}

func (r *PostRepository) FindTopN(ctx context.Context, limit int, visibilities []post.Visibility) ([]post.Post, error) {
	return r.findRanked(ctx, "db.find_top", rankQuery{limit: limit, visibilities: visibilities})
}

func (r *PostRepository) FindNextN(ctx context.Context, limit int, visibilities []post.Visibility, cursor post.Cursor) ([]post.Post, error) {
	return r.findRanked(ctx, "db.find_next", rankQuery{limit: limit, visibilities: visibilities, cursor: &cursor})
}

func (r *PostRepository) FindTopNByCreator(ctx context.Context, limit int, visibilities []post.Visibility, creatorID uuid.UUID) ([]post.Post, error) {
	return r.findRanked(ctx, "db.find_top_by_creator", rankQuery{limit: limit, visibilities: visibilities, creatorID: &creatorID})
}

func (r *PostRepository) FindNextNByCreator(ctx context.Context, limit int, visibilities []post.Visibility, creatorID uuid.UUID, cursor post.Cursor) ([]post.Post, error) {
	return r.findRanked(ctx, "db.find_next_by_creator", rankQuery{limit: limit, visibilities: visibilities, creatorID: &creatorID, cursor: &cursor})
}

// AddScoreDelta shifts the score in place so concurrent votes serialize on the row.
func (r *PostRepository) AddScoreDelta(ctx context.Context, id int64, delta int64) (int64, error) {
	query, args, err := r.qb.Update(postsTable).
		Set("score", sq.Expr("score + ?", delta)).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return 0, post.StoreUnavailable("db.add_score", err)
	}
	result, err := r.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"post_id": id, "delta": delta}).WithError(err).Error("db: failed to change score")
		}
		return 0, post.StoreUnavailable("db.add_score", err)
	}
	return r.rowsAffected("db.add_score", id, result)
}

func (r *PostRepository) SetVisibility(ctx context.Context, id int64, v post.Visibility) (int64, error) {
	query, args, err := r.qb.Update(postsTable).
		Set("visibility", string(v)).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return 0, post.StoreUnavailable("db.set_visibility", err)
	}
	result, err := r.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		if cerr := classifyConstraint("db.set_visibility", err); cerr != nil {
			return 0, cerr
		}
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"post_id": id, "visibility": v}).WithError(err).Error("db: failed to change visibility")
		}
		return 0, post.StoreUnavailable("db.set_visibility", err)
	}
	return r.rowsAffected("db.set_visibility", id, result)
}

func (r *PostRepository) findRanked(ctx context.Context, op string, rq rankQuery) ([]post.Post, error) {
	query, args, err := rq.build(r.qb)
	if err != nil {
		return nil, post.StoreUnavailable(op, err)
	}

	posts := []post.Post{}
	start := time.Now()
	if err := r.db.DB.SelectContext(ctx, &posts, query, args...); err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"op": op, "limit": rq.limit}).WithError(err).Error("db: ranked query failed")
		}
		return nil, post.StoreUnavailable(op, err)
	}
	if r.logger != nil {
		r.logger.WithFields(logrus.Fields{"op": op, "rows": len(posts), "took": time.Since(start)}).Debug("db: ranked query")
	}
	return posts, nil
}

func (r *PostRepository) readError(op string, id int64, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"post_id": id}).Debug("db: post not found by ID")
		}
		return post.NotFound(op, id)
	}
	if r.logger != nil {
		r.logger.WithFields(logrus.Fields{"post_id": id}).WithError(err).Error("db: failed to get post by ID")
	}
	return post.StoreUnavailable(op, err)
}

func (r *PostRepository) rowsAffected(op string, id int64, result sql.Result) (int64, error) {
	n, err := result.RowsAffected()
	if err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"post_id": id}).WithError(err).Error("db: failed to get rows affected")
		}
		return 0, post.StoreUnavailable(op, fmt.Errorf("failed to get rows affected: %w", err))
	}
	return n, nil
}

// classifyConstraint turns a constraint violation into a structured error, or returns nil.
func classifyConstraint(op string, err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}
	switch string(pqErr.Code) {
	case pqUniqueViolation:
		field, ok := uniqueConstraintFields[pqErr.Constraint]
		if !ok {
			field = pqErr.Constraint
		}
		return post.Conflict(op, field)
	case pqCheckViolation:
		return post.InvalidInput(op, pqErr.Column, "value rejected by "+pqErr.Constraint)
	}
	return nil
}

// rankQuery is one keyset page request in canonical order.
type rankQuery struct {
	limit        int
	visibilities []post.Visibility
	creatorID    *uuid.UUID
	cursor       *post.Cursor
}

func (q rankQuery) build(qb sq.StatementBuilderType) (string, []interface{}, error) {
	sb := qb.Select(postColumns...).From(postsTable)

	if len(q.visibilities) > 0 {
		vs := make([]string, 0, len(q.visibilities))
		for _, v := range q.visibilities {
			vs = append(vs, string(v))
		}
		sb = sb.Where(sq.Eq{"visibility": vs})
	}
	if q.creatorID != nil {
		sb = sb.Where(sq.Eq{"creator_id": q.creatorID.String()})
	}
	if q.cursor != nil {
		// ties on score are resolved by id; a bare score inequality drops or repeats rows
		sb = sb.Where(sq.Or{
			sq.Lt{"score": q.cursor.LastScore},
			sq.And{
				sq.Eq{"score": q.cursor.LastScore},
				sq.Lt{"id": q.cursor.LastID},
			},
		})
	}
	if q.limit > 0 {
		sb = sb.Limit(uint64(q.limit))
	}
	return sb.OrderBy("score DESC", "id DESC").ToSql()
}

package repositories

import (
	"database/sql"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/avatarctic/ranked-posts/internal/core/domain/post"
)

func TestRankQuery_TopUsesCanonicalOrder(t *testing.T) {
	qb := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	query, args, err := rankQuery{limit: 10, visibilities: []post.Visibility{post.VisibilityPublished}}.build(qb)
	require.NoError(t, err)

	require.Contains(t, query, "FROM posts WHERE visibility IN ($1)")
	require.Contains(t, query, "ORDER BY score DESC, id DESC LIMIT 10")
	require.NotContains(t, query, "score <")
	require.Equal(t, []interface{}{"published"}, args)
}

func TestRankQuery_NextUsesCompoundKeysetPredicate(t *testing.T) {
	qb := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	cursor := post.Cursor{LastID: 10, LastScore: 5}
	query, args, err := rankQuery{
		limit:        3,
		visibilities: []post.Visibility{post.VisibilityPublished, post.VisibilityHidden},
		cursor:       &cursor,
	}.build(qb)
	require.NoError(t, err)

	require.Contains(t, query, "WHERE visibility IN ($1,$2) AND (score < $3 OR (score = $4 AND id < $5))")
	require.Contains(t, query, "ORDER BY score DESC, id DESC LIMIT 3")
	require.Equal(t, []interface{}{"published", "hidden", int64(5), int64(5), int64(10)}, args)
}

func TestRankQuery_CreatorScope(t *testing.T) {
	qb := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	creator := uuid.New()
	query, args, err := rankQuery{limit: 1, visibilities: []post.Visibility{post.VisibilityDraft}, creatorID: &creator}.build(qb)
	require.NoError(t, err)

	require.Contains(t, query, "visibility IN ($1) AND creator_id = $2")
	require.Equal(t, []interface{}{"draft", creator.String()}, args)
}

func TestClassifyConstraint_MapsUniqueViolationToField(t *testing.T) {
	err := classifyConstraint("db.create", &pq.Error{Code: pqUniqueViolation, Constraint: "posts_slug_key"})

	var pe *post.Error
	require.ErrorAs(t, err, &pe)
	require.Equal(t, post.KindConflict, pe.Kind)
	require.Equal(t, "slug", pe.Field)

	require.Nil(t, classifyConstraint("db.create", sql.ErrConnDone))
}

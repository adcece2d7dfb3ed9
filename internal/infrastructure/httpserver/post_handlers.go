package httpserver

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/avatarctic/ranked-posts/internal/core/domain/post"
	"github.com/avatarctic/ranked-posts/internal/infrastructure/httpserver/helpers"
)

func parsePostID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid post ID")
	}
	return id, nil
}

// parseListQuery reads size, lastId/lastScore, visibility (repeated or comma separated)
// and creator from the query string.
func parseListQuery(c echo.Context) (post.ListQuery, error) {
	var q post.ListQuery

	if v := c.QueryParam("size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size <= 0 {
			return q, echo.NewHTTPError(http.StatusBadRequest, "invalid size")
		}
		q.Size = size
	}

	lastID, lastScore := c.QueryParam("lastId"), c.QueryParam("lastScore")
	if (lastID == "") != (lastScore == "") {
		return q, echo.NewHTTPError(http.StatusBadRequest, "lastId and lastScore must be sent together")
	}
	if lastID != "" {
		id, err := strconv.ParseInt(lastID, 10, 64)
		if err != nil {
			return q, echo.NewHTTPError(http.StatusBadRequest, "invalid lastId")
		}
		score, err := strconv.ParseInt(lastScore, 10, 64)
		if err != nil {
			return q, echo.NewHTTPError(http.StatusBadRequest, "invalid lastScore")
		}
		q.Cursor = &post.Cursor{LastID: id, LastScore: score}
	}

	for _, raw := range c.QueryParams()["visibility"] {
		for _, v := range strings.Split(raw, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			vis := post.Visibility(v)
			if !vis.IsValid() {
				return q, echo.NewHTTPError(http.StatusBadRequest, "invalid visibility "+v)
			}
			q.Filter.Visibilities = append(q.Filter.Visibilities, vis)
		}
	}

	if v := c.QueryParam("creator"); v != "" {
		creatorID, err := uuid.Parse(v)
		if err != nil {
			return q, echo.NewHTTPError(http.StatusBadRequest, "invalid creator ID")
		}
		q.Filter.CreatorID = &creatorID
	}
	return q, nil
}

func (s *Server) listPosts(c echo.Context) error {
	q, err := parseListQuery(c)
	if err != nil {
		return err
	}
	page, err := s.postService.ListPosts(c.Request().Context(), helpers.GetPrincipal(c), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func (s *Server) getPost(c echo.Context) error {
	id, err := parsePostID(c)
	if err != nil {
		return err
	}
	p, err := s.postService.GetPost(c.Request().Context(), helpers.GetPrincipal(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) getPostImage(c echo.Context) error {
	id, err := parsePostID(c)
	if err != nil {
		return err
	}
	img, err := s.postService.GetImage(c.Request().Context(), helpers.GetPrincipal(c), id)
	if err != nil {
		return err
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	return c.Blob(http.StatusOK, contentType, img.Data)
}

func (s *Server) createPost(c echo.Context) error {
	var req post.CreatePostRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := s.postService.CreatePost(c.Request().Context(), helpers.GetPrincipal(c), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (s *Server) updatePost(c echo.Context) error {
	id, err := parsePostID(c)
	if err != nil {
		return err
	}
	var req post.UpdatePostRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := s.postService.UpdatePost(c.Request().Context(), helpers.GetPrincipal(c), id, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) deletePost(c echo.Context) error {
	id, err := parsePostID(c)
	if err != nil {
		return err
	}
	if err := s.postService.DeletePost(c.Request().Context(), helpers.GetPrincipal(c), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) changeVisibility(c echo.Context) error {
	id, err := parsePostID(c)
	if err != nil {
		return err
	}
	var req post.ChangeVisibilityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.postService.ChangeVisibility(c.Request().Context(), helpers.GetPrincipal(c), id, req.Visibility); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) vote(c echo.Context) error {
	id, err := parsePostID(c)
	if err != nil {
		return err
	}
	if err := s.postService.Vote(c.Request().Context(), helpers.GetPrincipal(c), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) unvote(c echo.Context) error {
	id, err := parsePostID(c)
	if err != nil {
		return err
	}
	if err := s.postService.Unvote(c.Request().Context(), helpers.GetPrincipal(c), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

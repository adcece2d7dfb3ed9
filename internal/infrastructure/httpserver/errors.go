package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ranked-posts/internal/core/domain/post"
)

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// statusFor maps an error kind to its HTTP status. An unavailable store and any leaked
// cache kind surface as an internal error.
func statusFor(kind post.ErrorKind) int {
	switch kind {
	case post.KindNotFound:
		return http.StatusNotFound
	case post.KindConflict:
		return http.StatusConflict
	case post.KindInvalidInput:
		return http.StatusBadRequest
	case post.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage keeps the operation name out of responses and hides 5xx causes.
func clientMessage(pe *post.Error, code int) string {
	if code >= http.StatusInternalServerError || pe.Err == nil {
		return http.StatusText(code)
	}
	return pe.Err.Error()
}

func newErrorHandler(logger *logrus.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			code int
			body errorResponse
		)
		var he *echo.HTTPError
		var pe *post.Error
		switch {
		case errors.As(err, &he):
			code = he.Code
			body = errorResponse{Error: http.StatusText(code), Message: http.StatusText(code)}
			if msg, ok := he.Message.(string); ok {
				body.Message = msg
			}
		case errors.As(err, &pe):
			code = statusFor(pe.Kind)
			body = errorResponse{Error: pe.Kind.String(), Message: clientMessage(pe, code), Field: pe.Field}
		default:
			code = http.StatusInternalServerError
			body = errorResponse{Error: "internal", Message: http.StatusText(code)}
		}

		if code >= http.StatusInternalServerError && logger != nil {
			logger.WithFields(logrus.Fields{"method": c.Request().Method, "path": c.Path(), "status": code}).WithError(err).Error("request failed")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, body)
		}
		if err != nil && logger != nil {
			logger.WithError(err).Warn("failed to write error response")
		}
	}
}

package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ranked-posts/internal/infrastructure/httpserver/helpers"
)

type LoggingMiddleware struct {
	logger *logrus.Logger
}

func NewLoggingMiddleware(logger *logrus.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// RequestLogging writes one line per request after the response is committed. Install
// it after ResolvePrincipal so the caller is known.
func (m *LoggingMiddleware) RequestLogging() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if m.logger == nil {
			return next
		}
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			_ = commitError(c, err)

			status := c.Response().Status
			fields := logrus.Fields{
				"method":     c.Request().Method,
				"route":      c.Path(),
				"uri":        c.Request().RequestURI,
				"status":     status,
				"latency_ms": time.Since(start).Milliseconds(),
				"bytes_out":  c.Response().Size,
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			}
			if p := helpers.GetPrincipal(c); !p.IsAnonymous() {
				fields["user_id"] = p.UserID
			}
			entry := m.logger.WithFields(fields)
			switch {
			case status >= 500:
				// already logged with its cause by the error handler
				entry.Warn("request failed")
			case err != nil:
				entry.WithError(err).Info("request rejected")
			default:
				entry.Debug("request handled")
			}
			return nil
		}
	}
}

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ranked-posts/internal/core/ports"
	"github.com/avatarctic/ranked-posts/internal/infrastructure/httpserver/helpers"
)

type RateLimitMiddleware struct {
	limiter ports.RateLimiterService
	logger  *logrus.Logger
}

func NewRateLimitMiddleware(limiter ports.RateLimiterService, logger *logrus.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter, logger: logger}
}

// rateSubject keys authenticated callers by user and everyone else by client address.
func rateSubject(c echo.Context) string {
	if p := helpers.GetPrincipal(c); !p.IsAnonymous() {
		return "user:" + p.UserID.String()
	}
	return "ip:" + c.RealIP()
}

// Handler throttles the wrapped routes. A failing counter lets the request through.
func (m *RateLimitMiddleware) Handler() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if m.limiter == nil {
			return next
		}
		return func(c echo.Context) error {
			subject := rateSubject(c)
			d, err := m.limiter.Allow(c.Request().Context(), subject)

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))

			if err != nil {
				if m.logger != nil {
					m.logger.WithField("subject", subject).WithError(err).Warn("rate limit check failed, allowing request")
				}
				return next(c)
			}
			if !d.Allowed {
				h.Set("Retry-After", strconv.Itoa(retryAfterSeconds(d)))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

func retryAfterSeconds(d ports.RateDecision) int {
	secs := int(time.Until(d.Reset).Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

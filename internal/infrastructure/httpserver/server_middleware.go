package httpserver

import (
	"github.com/labstack/echo/v4/middleware"
)

// setupMiddleware installs the global chain. Metrics wraps authentication so rejected
// tokens are counted; logging runs inside so it sees the principal.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		ExposeHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
	}))
	if s.config.BodyLimit != "" {
		s.echo.Use(middleware.BodyLimit(s.config.BodyLimit))
	}

	s.echo.Use(s.middleware.Metrics.CollectHTTPMetrics())
	s.echo.Use(s.middleware.JWT.ResolvePrincipal())
	s.echo.Use(s.middleware.Logging.RequestLogging())
}

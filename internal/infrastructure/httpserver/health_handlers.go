package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"
)

const healthTimeout = 2 * time.Second

type healthReport struct {
	Status       string            `json:"status"`
	Service      string            `json:"service"`
	Timestamp    string            `json:"timestamp"`
	Dependencies map[string]string `json:"dependencies"`
}

// healthCheck probes every dependency in parallel. Any failing probe marks the
// service degraded and answers 503 so load balancers drain it.
func (s *Server) healthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	results := make([]error, len(s.healthCheckers))
	var g errgroup.Group
	for i, hc := range s.healthCheckers {
		i, hc := i, hc
		g.Go(func() error {
			results[i] = hc.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	report := healthReport{
		Status:       "healthy",
		Service:      "ranked-posts",
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Dependencies: make(map[string]string, len(results)),
	}
	for i, err := range results {
		name := s.healthCheckers[i].Name()
		if err != nil {
			report.Dependencies[name] = "unhealthy"
			report.Status = "degraded"
			s.log().WithField("dependency", name).WithError(err).Warn("health probe failed")
			continue
		}
		report.Dependencies[name] = "healthy"
	}

	code := http.StatusOK
	if report.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, report)
}

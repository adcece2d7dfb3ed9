package middleware

import (
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ranked-posts/internal/core/ports"
)

// MiddlewareCollection holds all middleware instances
type MiddlewareCollection struct {
	JWT       *JWTMiddleware
	Logging   *LoggingMiddleware
	RateLimit *RateLimitMiddleware
	Metrics   *MetricsMiddleware
}

// NewMiddlewareCollection wires the middleware used by the posts API.
func NewMiddlewareCollection(
	verifier ports.TokenVerifier,
	limiter ports.RateLimiterService,
	logger *logrus.Logger,
	metrics *HTTPMetrics,
	unmeteredRoutes ...string,
) *MiddlewareCollection {
	return &MiddlewareCollection{
		JWT:       NewJWTMiddleware(verifier, logger),
		Logging:   NewLoggingMiddleware(logger),
		RateLimit: NewRateLimitMiddleware(limiter, logger),
		Metrics:   NewMetricsMiddleware(metrics, unmeteredRoutes...),
	}
}

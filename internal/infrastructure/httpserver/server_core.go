package httpserver

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ranked-posts/internal/core/ports"
	customMiddleware "github.com/avatarctic/ranked-posts/internal/infrastructure/httpserver/middleware"
)

const (
	healthPath  = "/health"
	metricsPath = "/metrics"
)

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	TLSCertFile  string
	TLSKeyFile   string
	// BodyLimit caps request bodies, images included (echo size syntax, e.g. "8M").
	BodyLimit string
}

// ServerDeps are the application services behind the posts API.
type ServerDeps struct {
	PostService        ports.PostService
	TokenVerifier      ports.TokenVerifier
	RateLimiterService ports.RateLimiterService
	HealthCheckers     []ports.HealthChecker
}

type Server struct {
	echo           *echo.Echo
	config         *ServerConfig
	logger         *logrus.Logger
	postService    ports.PostService
	middleware     *customMiddleware.MiddlewareCollection
	healthCheckers []ports.HealthChecker
	registry       *prometheus.Registry
}

func NewServer(serverConfig *ServerConfig, logger *logrus.Logger, deps ServerDeps) *Server {
	if serverConfig == nil {
		serverConfig = &ServerConfig{}
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = newErrorHandler(logger)

	registry := prometheus.NewRegistry()
	checkers := make([]ports.HealthChecker, 0, len(deps.HealthCheckers))
	for _, hc := range deps.HealthCheckers {
		if hc != nil {
			checkers = append(checkers, hc)
		}
	}

	server := &Server{
		echo:           e,
		config:         serverConfig,
		logger:         logger,
		postService:    deps.PostService,
		healthCheckers: checkers,
		registry:       registry,
		middleware: customMiddleware.NewMiddlewareCollection(
			deps.TokenVerifier,
			deps.RateLimiterService,
			logger,
			customMiddleware.NewHTTPMetrics(registry),
			healthPath, metricsPath,
		),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}

package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics holds the request collectors of one server.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewHTTPMetrics registers the request collectors with reg.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	f := promauto.With(reg)
	return &HTTPMetrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route"}),
	}
}

type MetricsMiddleware struct {
	metrics *HTTPMetrics
	skip    map[string]bool
}

func NewMetricsMiddleware(metrics *HTTPMetrics, skipRoutes ...string) *MetricsMiddleware {
	skip := make(map[string]bool, len(skipRoutes))
	for _, r := range skipRoutes {
		skip[r] = true
	}
	return &MetricsMiddleware{metrics: metrics, skip: skip}
}

// CollectHTTPMetrics records every request by route template. Unmatched paths share
// one label so scanners cannot blow up the series count.
func (m *MetricsMiddleware) CollectHTTPMetrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := commitError(c, next(c))

			route := c.Path()
			if m.skip[route] {
				return err
			}
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.metrics.requests.WithLabelValues(method, route, strconv.Itoa(c.Response().Status)).Inc()
			m.metrics.latency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// commitError writes err through the server's error handler so the final status is
// known to the caller; the error is consumed.
func commitError(c echo.Context, err error) error {
	if err != nil {
		c.Error(err)
	}
	return nil
}

package httpserver

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsHandler serves this server's HTTP collectors together with the process-wide
// default registry, where the ranked cache counters live.
func metricsHandler(reg *prometheus.Registry) echo.HandlerFunc {
	gatherers := prometheus.Gatherers{reg, prometheus.DefaultGatherer}
	return echo.WrapHandler(promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))
}

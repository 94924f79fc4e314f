// Package telemetry exposes Prometheus metrics for the console server: HTTP
// request counters and latencies, connection pool gauges, and the /metrics
// endpoint. Domain packages register their own collectors on Registerer.
package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "console"

// Provider owns the metrics registry.
type Provider struct {
	registry     *prometheus.Registry
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewProvider creates a registry carrying the Go runtime and process
// collectors plus HTTP server metrics.
func NewProvider() *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p := &Provider{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Counts HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(p.httpRequests, p.httpDuration)
	return p
}

// Registerer is where other packages register their collectors.
func (p *Provider) Registerer() prometheus.Registerer {
	return p.registry
}

// Gatherer exposes the registry for tests and custom exporters.
func (p *Provider) Gatherer() prometheus.Gatherer {
	return p.registry
}

// Handler serves the Prometheus text exposition format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// RegisterDBPool adds gauges that read the pool's statistics at scrape time.
func (p *Provider) RegisterDBPool(pool *pgxpool.Pool) error {
	gauge := func(name, help string, read func(*pgxpool.Stat) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return read(pool.Stat()) })
	}
	for _, c := range []prometheus.Collector{
		gauge("total_connections", "Total connections in the pool.", func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }),
		gauge("acquired_connections", "Connections currently in use.", func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }),
		gauge("idle_connections", "Idle connections.", func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }),
		gauge("max_connections", "Configured pool size.", func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }),
	} {
		if err := p.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Middleware returns an Echo middleware that records HTTP server metrics.
// Routes are labelled by their pattern, not the concrete path.
func (p *Provider) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}

			method := c.Request().Method
			p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			p.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

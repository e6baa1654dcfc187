// Package metrics holds the process-wide Prometheus instrumentation: HTTP
// traffic, the database pool and the order stream. Domain packages register
// their own vectors under Namespace.
package metrics

import (
	"database/sql"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric the service exports.
const Namespace = "wiredan"

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route pattern and status class.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route pattern.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
	}, []string{"method", "path"})

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "http_requests_in_flight",
		Help:      "Requests currently being served.",
	})

	// ActiveWebSocketClients tracks connected order stream watchers.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "active_websocket_clients",
		Help:      "Connected order stream watchers.",
	})

	// StreamEventsTotal counts order events queued for stream watchers.
	StreamEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "stream_events_total",
		Help:      "Order status events published to the realtime hub.",
	})
)

func init() {
	prometheus.MustRegister(httpRequests, httpDuration, httpInFlight, ActiveWebSocketClients, StreamEventsTotal)
}

// RegisterDB exports db's pool statistics as go_sql_* series labelled with
// name. Registering the same name twice is not an error.
func RegisterDB(db *sql.DB, name string) error {
	err := prometheus.Register(collectors.NewDBStatsCollector(db, name))
	var dup prometheus.AlreadyRegisteredError
	if errors.As(err, &dup) {
		return nil
	}
	return err
}

// Middleware records request counts and latency keyed by route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpInFlight.Inc()
		timer := prometheus.NewTimer(httpDuration.WithLabelValues(c.Request.Method, path))
		defer func() {
			httpInFlight.Dec()
			timer.ObserveDuration()
			httpRequests.WithLabelValues(c.Request.Method, path, statusClass(c.Writer.Status())).Inc()
		}()
		c.Next()
	}
}

// Handler serves the default registry, with OpenMetrics when the scraper
// asks for it.
func Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return gin.WrapH(h)
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}

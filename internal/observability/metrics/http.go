package metrics

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpOnce            sync.Once
	httpRequestDuration *prometheus.HistogramVec
	httpInFlight        prometheus.Gauge
)

func initHTTPMetrics() {
	httpOnce.Do(func() {
		httpRequestDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "greenpay_http_server_duration_seconds",
				Help:    "Inbound HTTP request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "status_code"},
		)
		httpInFlight = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "greenpay_http_server_in_flight",
				Help: "Inbound HTTP requests currently being served.",
			},
		)
		prometheus.MustRegister(httpRequestDuration, httpInFlight)
	})
}

// GinMiddleware records request duration and in-flight metrics with
// low-cardinality endpoint labels (route templates, not raw paths).
func GinMiddleware() gin.HandlerFunc {
	initHTTPMetrics()
	return func(c *gin.Context) {
		endpoint := normalizeEndpoint(c.FullPath())
		httpInFlight.Inc()
		start := time.Now()
		c.Next()
		httpInFlight.Dec()

		httpRequestDuration.
			WithLabelValues(endpoint, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "unknown"
	}
	return endpoint
}

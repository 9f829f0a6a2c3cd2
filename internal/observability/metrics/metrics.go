package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels attached to every metric.
type Config struct {
	ServiceName string
	Environment string
}

// GatewayMetrics captures payment-gateway level metrics: webhook processing
// outcomes, outbound provider call latency, and offset donations.
type GatewayMetrics struct {
	webhookProcessed *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	offsetDonations  *prometheus.CounterVec
}

var (
	gatewayMetricsOnce sync.Once
	gatewayMetrics     *GatewayMetrics
)

// Gateway returns the process-wide gateway metrics set.
func Gateway() *GatewayMetrics {
	return GatewayWithConfig(Config{})
}

// GatewayWithConfig initializes the gateway metrics set once.
func GatewayWithConfig(cfg Config) *GatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayMetrics = newGatewayMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return gatewayMetrics
}

// ResetGatewayMetricsForTest clears the singleton between test runs.
func ResetGatewayMetricsForTest() {
	gatewayMetricsOnce = sync.Once{}
	gatewayMetrics = nil
}

func newGatewayMetrics(registerer prometheus.Registerer, cfg Config) *GatewayMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "greenpay"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	webhookProcessed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "greenpay_webhook_events_total",
			Help:        "Webhook deliveries by provider and outcome.",
			ConstLabels: constLabels,
		},
		[]string{"provider", "result"}, // processed | duplicate | rejected | malformed | failed
	)

	providerDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "greenpay_provider_request_duration_seconds",
			Help:        "Outbound provider API call latency.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			ConstLabels: constLabels,
		},
		[]string{"provider", "operation"}, // create | capture | query | refund | token | verify
	)

	offsetDonations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "greenpay_carbon_offset_donations_total",
			Help:        "Carbon offset donation records created.",
			ConstLabels: constLabels,
		},
		[]string{"currency"},
	)

	registerer.MustRegister(webhookProcessed, providerDuration, offsetDonations)

	return &GatewayMetrics{
		webhookProcessed: webhookProcessed,
		providerDuration: providerDuration,
		offsetDonations:  offsetDonations,
	}
}

// IncWebhookProcessed records a webhook delivery outcome.
func (m *GatewayMetrics) IncWebhookProcessed(provider, result string) {
	if m == nil {
		return
	}
	m.webhookProcessed.WithLabelValues(provider, result).Inc()
}

// ObserveProviderRequest records an outbound provider call.
func (m *GatewayMetrics) ObserveProviderRequest(provider, operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.providerDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// IncOffsetDonation records a created carbon offset donation.
func (m *GatewayMetrics) IncOffsetDonation(currency string) {
	if m == nil {
		return
	}
	m.offsetDonations.WithLabelValues(strings.ToUpper(currency)).Inc()
}

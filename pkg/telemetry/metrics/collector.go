package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the gateway's metric instruments.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	upstreamLatency *prometheus.HistogramVec
	failoversTotal  *prometheus.CounterVec

	tokensTotal  *prometheus.CounterVec
	costUSDTotal *prometheus.CounterVec

	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec

	walletRejections  *prometheus.CounterVec
	clientDisconnects *prometheus.CounterVec

	analyticsDropped prometheus.Counter
}

// NewCollector creates and registers the gateway instruments on a
// dedicated registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_requests_total",
			Help: "Requests by tenant, model and outcome status.",
		}, []string{"tenant", "model", "status"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_request_duration_seconds",
			Help:    "End-to-end request latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"tenant", "model"}),

		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_upstream_latency_seconds",
			Help:    "Upstream call latency by connector.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"provider"}),

		failoversTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_failovers_total",
			Help: "Connector advances within requests.",
		}, []string{"tenant"}),

		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_tokens_total",
			Help: "Tokens settled by tenant and direction.",
		}, []string{"tenant", "direction"}),

		costUSDTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_cost_usd_total",
			Help: "Settled cost in USD by tenant.",
		}, []string{"tenant"}),

		cacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_cache_hits_total",
			Help: "Semantic cache hits by tenant.",
		}, []string{"tenant"}),

		cacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_cache_misses_total",
			Help: "Semantic cache misses by tenant.",
		}, []string{"tenant"}),

		walletRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_wallet_rejections_total",
			Help: "Requests refused for exhausted budgets.",
		}, []string{"tenant"}),

		clientDisconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_stream_client_disconnects_total",
			Help: "Streams terminated by client disconnect.",
		}, []string{"tenant"}),

		analyticsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aegis_analytics_dropped_total",
			Help: "Analytics events shed due to buffer overflow.",
		}),
	}

	registry.MustRegister(
		c.requestsTotal, c.requestDuration,
		c.upstreamLatency, c.failoversTotal,
		c.tokensTotal, c.costUSDTotal,
		c.cacheHitsTotal, c.cacheMissesTotal,
		c.walletRejections, c.clientDisconnects,
		c.analyticsDropped,
	)

	return c
}

// Handler serves the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one settled request.
func (c *Collector) ObserveRequest(tenant, model, status string, duration time.Duration) {
	c.requestsTotal.WithLabelValues(tenant, model, status).Inc()
	c.requestDuration.WithLabelValues(tenant, model).Observe(duration.Seconds())
}

// ObserveUpstream records one upstream call latency.
func (c *Collector) ObserveUpstream(provider string, latency time.Duration) {
	c.upstreamLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// AddFailovers records connector advances.
func (c *Collector) AddFailovers(tenant string, n int) {
	if n > 0 {
		c.failoversTotal.WithLabelValues(tenant).Add(float64(n))
	}
}

// AddUsage records settled tokens and cost.
func (c *Collector) AddUsage(tenant string, inputTokens, outputTokens int, cost float64) {
	c.tokensTotal.WithLabelValues(tenant, "input").Add(float64(inputTokens))
	c.tokensTotal.WithLabelValues(tenant, "output").Add(float64(outputTokens))
	c.costUSDTotal.WithLabelValues(tenant).Add(cost)
}

// ObserveCache records a cache lookup outcome.
func (c *Collector) ObserveCache(tenant string, hit bool) {
	if hit {
		c.cacheHitsTotal.WithLabelValues(tenant).Inc()
	} else {
		c.cacheMissesTotal.WithLabelValues(tenant).Inc()
	}
}

// AddWalletRejection records a wallet_exhausted refusal.
func (c *Collector) AddWalletRejection(tenant string) {
	c.walletRejections.WithLabelValues(tenant).Inc()
}

// AddClientDisconnect records a stream ended by the client.
func (c *Collector) AddClientDisconnect(tenant string) {
	c.clientDisconnects.WithLabelValues(tenant).Inc()
}

// AddAnalyticsDropped records sink overflow drops.
func (c *Collector) AddAnalyticsDropped(n int64) {
	if n > 0 {
		c.analyticsDropped.Add(float64(n))
	}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector gathers engine metrics. All methods are nil-receiver safe so the
// engine can run without metrics wired (tests, embedded use).
type Collector struct {
	eventsIngested    *prometheus.CounterVec
	promotions        *prometheus.CounterVec
	tierErrors        *prometheus.CounterVec
	consolidations    prometheus.Counter
	consolidatedItems prometheus.Counter
	fallbackSearches  prometheus.Counter
	cleanupRemoved    *prometheus.CounterVec

	contextAssembly prometheus.Histogram
	tierLatency     *prometheus.HistogramVec

	bufferUsers prometheus.Gauge
	bufferItems prometheus.Gauge
}

// NewCollector registers engine metrics on the given registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		eventsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memory_events_ingested_total",
				Help:      "Total conversation events appended to the recent buffer",
			},
			[]string{"kind"},
		),
		promotions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memory_promotions_total",
				Help:      "Promotion attempts into the long-term store",
			},
			[]string{"outcome"},
		),
		tierErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memory_tier_errors_total",
				Help:      "Degraded tier operations by tier",
			},
			[]string{"tier"},
		),
		consolidations: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memory_consolidations_total",
				Help:      "Consolidation runs triggered by buffer pressure",
			},
		),
		consolidatedItems: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memory_consolidated_items_total",
				Help:      "Events promoted to long-term storage by consolidation",
			},
		),
		fallbackSearches: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memory_semantic_fallback_searches_total",
				Help:      "Semantic searches served by the substring fallback",
			},
		),
		cleanupRemoved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memory_cleanup_removed_total",
				Help:      "Records removed by cleanup sweeps",
			},
			[]string{"tier"},
		),
		contextAssembly: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "memory_context_assembly_seconds",
				Help:      "Cross-tier context assembly duration",
				Buckets:   prometheus.DefBuckets,
			},
		),
		tierLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "memory_tier_latency_seconds",
				Help:      "Per-tier retrieval latency during context assembly",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tier"},
		),
		bufferUsers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_buffer_users",
				Help:      "Users with events in the recent buffer",
			},
		),
		bufferItems: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_buffer_items",
				Help:      "Events held in the recent buffer",
			},
		),
	}
}

// EventIngested counts a buffered event by kind.
func (c *Collector) EventIngested(kind string) {
	if c == nil {
		return
	}
	c.eventsIngested.WithLabelValues(kind).Inc()
}

// Promotion counts a promotion attempt: "stored", "skipped" or "failed".
func (c *Collector) Promotion(outcome string) {
	if c == nil {
		return
	}
	c.promotions.WithLabelValues(outcome).Inc()
}

// TierError counts a degraded operation for the named tier.
func (c *Collector) TierError(tier string) {
	if c == nil {
		return
	}
	c.tierErrors.WithLabelValues(tier).Inc()
}

// Consolidation records one consolidation run and its promoted count.
func (c *Collector) Consolidation(promoted int) {
	if c == nil {
		return
	}
	c.consolidations.Inc()
	c.consolidatedItems.Add(float64(promoted))
}

// FallbackSearch counts a substring-mode semantic search.
func (c *Collector) FallbackSearch() {
	if c == nil {
		return
	}
	c.fallbackSearches.Inc()
}

// CleanupRemoved records records removed by a cleanup sweep.
func (c *Collector) CleanupRemoved(tier string, removed int) {
	if c == nil || removed <= 0 {
		return
	}
	c.cleanupRemoved.WithLabelValues(tier).Add(float64(removed))
}

// ObserveContextAssembly records a full fan-out duration.
func (c *Collector) ObserveContextAssembly(d time.Duration) {
	if c == nil {
		return
	}
	c.contextAssembly.Observe(d.Seconds())
}

// ObserveTierLatency records one tier's retrieval duration.
func (c *Collector) ObserveTierLatency(tier string, d time.Duration) {
	if c == nil {
		return
	}
	c.tierLatency.WithLabelValues(tier).Observe(d.Seconds())
}

// SetBufferSize updates the recent-buffer gauges.
func (c *Collector) SetBufferSize(users, items int) {
	if c == nil {
		return
	}
	c.bufferUsers.Set(float64(users))
	c.bufferItems.Set(float64(items))
}

// Package metrics exposes Prometheus counters and histograms for the record
// pipeline, profile rebuilds, chat routing and the HTTP API. A nil *Collector
// is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "persona"

// Collector holds every metric on its own registry so that tests and
// multiple servers in one process do not collide.
type Collector struct {
	registry *prometheus.Registry

	RecordsProcessed *prometheus.CounterVec
	RebuildDuration  *prometheus.HistogramVec
	ChatMessages     *prometheus.CounterVec
	ChatFallbacks    *prometheus.CounterVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New creates a Collector with a fresh registry.
func New() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		RecordsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_processed_total",
				Help:      "Raw records processed, by source and resulting status.",
			},
			[]string{"source", "status"},
		),
		RebuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "preference_rebuild_duration_seconds",
				Help:      "Duration of full preference rebuilds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		ChatMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_messages_total",
				Help:      "Chat messages answered, by classified intent.",
			},
			[]string{"intent"},
		),
		ChatFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_fallbacks_total",
				Help:      "Chat turns answered with an apology, by reason.",
			},
			[]string{"reason"},
		),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preference_cache_hits_total",
			Help:      "Preference reads served from cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preference_cache_misses_total",
			Help:      "Preference reads that went to the store.",
		}),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		c.RecordsProcessed,
		c.RebuildDuration,
		c.ChatMessages,
		c.ChatFallbacks,
		c.CacheHits,
		c.CacheMisses,
		c.HTTPRequests,
		c.HTTPDuration,
	)
	return c
}

// Registry returns the registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveRecord(source, status string) {
	if c == nil {
		return
	}
	c.RecordsProcessed.WithLabelValues(source, status).Inc()
}

func (c *Collector) ObserveRebuild(d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.RebuildDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (c *Collector) ObserveChat(intent string) {
	if c == nil {
		return
	}
	c.ChatMessages.WithLabelValues(intent).Inc()
}

func (c *Collector) ObserveFallback(reason string) {
	if c == nil {
		return
	}
	c.ChatFallbacks.WithLabelValues(reason).Inc()
}

func (c *Collector) CacheHit() {
	if c == nil {
		return
	}
	c.CacheHits.Inc()
}

func (c *Collector) CacheMiss() {
	if c == nil {
		return
	}
	c.CacheMisses.Inc()
}

func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

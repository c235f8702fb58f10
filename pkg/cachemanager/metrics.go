package cachemanager

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes cache activity to Prometheus. A nil *Metrics records nothing.
type Metrics struct {
	hits          prometheus.Counter
	misses        prometheus.Counter
	adds          *prometheus.CounterVec
	evictions     prometheus.Counter
	codecFailures prometheus.Counter
	entries       prometheus.Gauge
	bytes         prometheus.Gauge
	limit         prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "txcache_hits_total",
			Help: "Lookups that found a cached texture",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "txcache_misses_total",
			Help: "Lookups that found nothing",
		}),
		adds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "txcache_adds_total",
			Help: "Add requests by result",
		}, []string{"result"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "txcache_evictions_total",
			Help: "Entries dropped to stay within the byte budget",
		}),
		codecFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "txcache_codec_failures_total",
			Help: "Payloads that failed to compress or decompress",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "txcache_entries",
			Help: "Number of cached textures",
		}),
		bytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "txcache_size_bytes",
			Help: "Stored payload bytes",
		}),
		limit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "txcache_limit_bytes",
			Help: "Byte budget of the memory cache, 0 when unbounded",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.adds, m.evictions, m.codecFailures, m.entries, m.bytes, m.limit)
	}
	return m
}

func (m *Metrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *Metrics) add(result string) {
	if m != nil {
		m.adds.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) evicted(n uint64) {
	if m != nil && n > 0 {
		m.evictions.Add(float64(n))
	}
}

func (m *Metrics) codecFailure() {
	if m != nil {
		m.codecFailures.Inc()
	}
}

func (m *Metrics) observe(size, totalSize, cacheLimit uint64) {
	if m == nil {
		return
	}
	m.entries.Set(float64(size))
	m.bytes.Set(float64(totalSize))
	m.limit.Set(float64(cacheLimit))
}

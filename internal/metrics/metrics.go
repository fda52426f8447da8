// Package metrics collects and exposes Prometheus metrics for the engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector aggregates counters for the cache and storage layers.
type Collector struct {
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
	cacheFlushes   prometheus.Counter
	decryptSkips   prometheus.Counter
	storeErrors    prometheus.Counter
	storeLatency   *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diary_cache_hits_total",
			Help: "Entry cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diary_cache_misses_total",
			Help: "Entry cache misses (slot loaded from storage).",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diary_cache_evictions_total",
			Help: "Entry cache slots evicted by TTL or capacity.",
		}),
		cacheFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diary_cache_flushes_total",
			Help: "Dirty slots flushed to storage.",
		}),
		decryptSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diary_store_decrypt_skips_total",
			Help: "Rows dropped from reads because they failed to decrypt.",
		}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diary_store_errors_total",
			Help: "Storage operations that returned an error.",
		}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "diary_store_op_seconds",
			Help:    "Storage operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(
		c.cacheHits, c.cacheMisses, c.cacheEvictions, c.cacheFlushes,
		c.decryptSkips, c.storeErrors, c.storeLatency,
	)
	return c
}

func (c *Collector) CacheHit()      { c.cacheHits.Inc() }
func (c *Collector) CacheMiss()     { c.cacheMisses.Inc() }
func (c *Collector) CacheEviction() { c.cacheEvictions.Inc() }
func (c *Collector) CacheFlush()    { c.cacheFlushes.Inc() }
func (c *Collector) StoreError()    { c.storeErrors.Inc() }

// DecryptSkipped records n rows dropped during a single read.
func (c *Collector) DecryptSkipped(n int) {
	if n > 0 {
		c.decryptSkips.Add(float64(n))
	}
}

// ObserveStoreOp records the latency of one storage operation.
func (c *Collector) ObserveStoreOp(op string, d time.Duration) {
	c.storeLatency.WithLabelValues(op).Observe(d.Seconds())
}

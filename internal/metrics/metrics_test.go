package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.CacheHit()
	c.CacheHit()
	c.CacheMiss()
	c.CacheEviction()
	c.CacheFlush()
	c.StoreError()
	c.DecryptSkipped(3)
	c.DecryptSkipped(0)

	require.Equal(t, 2.0, counterValue(t, reg, "diary_cache_hits_total"))
	require.Equal(t, 1.0, counterValue(t, reg, "diary_cache_misses_total"))
	require.Equal(t, 1.0, counterValue(t, reg, "diary_cache_evictions_total"))
	require.Equal(t, 1.0, counterValue(t, reg, "diary_cache_flushes_total"))
	require.Equal(t, 1.0, counterValue(t, reg, "diary_store_errors_total"))
	require.Equal(t, 3.0, counterValue(t, reg, "diary_store_decrypt_skips_total"))
}

func TestCollector_StoreLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveStoreOp("upsert_entry", 5*time.Millisecond)
	c.ObserveStoreOp("read_entries", 2*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() != "diary_store_op_seconds" {
			continue
		}
		found = true
		require.Len(t, mf.GetMetric(), 2)
		for _, m := range mf.GetMetric() {
			require.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
		}
	}
	require.True(t, found)
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("clawmem", reg)
	require.NotNil(t, c)

	c.EventIngested("user_message")
	c.EventIngested("user_message")
	c.EventIngested("bot_response")
	c.Promotion("stored")
	c.Promotion("skipped")
	c.TierError("long_term")
	c.Consolidation(3)
	c.FallbackSearch()
	c.CleanupRemoved("semantic", 5)
	c.CleanupRemoved("semantic", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.eventsIngested.WithLabelValues("user_message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.eventsIngested.WithLabelValues("bot_response")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.promotions.WithLabelValues("stored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tierErrors.WithLabelValues("long_term")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.consolidations))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.consolidatedItems))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fallbackSearches))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.cleanupRemoved.WithLabelValues("semantic")))
}

func TestCollectorGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("clawmem", reg)

	c.SetBufferSize(2, 40)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.bufferUsers))
	assert.Equal(t, 40.0, testutil.ToFloat64(c.bufferItems))

	c.SetBufferSize(0, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.bufferItems))
}

func TestCollectorNilSafe(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.EventIngested("user_message")
		c.Promotion("stored")
		c.TierError("semantic")
		c.Consolidation(1)
		c.FallbackSearch()
		c.CleanupRemoved("long_term", 2)
		c.ObserveContextAssembly(10 * time.Millisecond)
		c.ObserveTierLatency("short_term", time.Millisecond)
		c.SetBufferSize(1, 1)
	})
}

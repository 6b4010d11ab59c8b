package drift

import (
	"github.com/dgraph-io/ristretto/v2"
)

// metricHistoryCache memoizes the per-(agent,metric) recent-value slice
// used for spike detection, so a burst of pings against the same agent
// does not re-scan health_pings on every single one. Entries are dropped
// eagerly whenever a new ping for that agent is ingested.
type metricHistoryCache struct {
	cache *ristretto.Cache[string, []float64]
}

func newMetricHistoryCache() *metricHistoryCache {
	c, err := ristretto.NewCache(&ristretto.Config[string, []float64]{
		NumCounters: 1e5,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil
	}
	return &metricHistoryCache{cache: c}
}

func cacheKey(agentID, metric string) string {
	return agentID + "\x00" + metric
}

func (c *metricHistoryCache) get(agentID, metric string) ([]float64, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.cache.Get(cacheKey(agentID, metric))
	return v, ok
}

func (c *metricHistoryCache) set(agentID, metric string, values []float64) {
	if c == nil {
		return
	}
	c.cache.SetWithTTL(cacheKey(agentID, metric), values, int64(len(values)+1), 0)
}

// invalidate drops the cached history of each metric named in metrics for
// an agent, so the next ping recomputes those from the authoritative store.
// Ristretto has no prefix-delete, so cached histories of metrics not named
// in metrics are left in place.
func (c *metricHistoryCache) invalidate(agentID string, metrics map[string]float64) {
	if c == nil {
		return
	}
	for metric := range metrics {
		c.cache.Del(cacheKey(agentID, metric))
	}
}

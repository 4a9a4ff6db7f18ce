package cache

import "github.com/prometheus/client_golang/prometheus"

var (
	descHits      = prometheus.NewDesc("dashboard_cache_hits_total", "Dashboard cache hits since the last reset.", nil, nil)
	descMisses    = prometheus.NewDesc("dashboard_cache_misses_total", "Dashboard cache misses since the last reset.", nil, nil)
	descEvictions = prometheus.NewDesc("dashboard_cache_evictions_total", "Expired dashboard cache entries removed since the last reset.", nil, nil)
	descEntries   = prometheus.NewDesc("dashboard_cache_entries", "Dashboard cache entries currently stored.", nil, nil)
	descTenants   = prometheus.NewDesc("dashboard_cache_tenants", "Tenants with at least one cache shard.", nil, nil)
)

type collector struct{ c *Cache }

// Collector exposes the cache counters to Prometheus. Values are read from
// Stats at scrape time.
func (c *Cache) Collector() prometheus.Collector { return collector{c} }

func (collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descHits
	ch <- descMisses
	ch <- descEvictions
	ch <- descEntries
	ch <- descTenants
}

func (k collector) Collect(ch chan<- prometheus.Metric) {
	st := k.c.Stats()
	// Counters can go back to zero on ResetStats, so they are exported as gauges.
	ch <- prometheus.MustNewConstMetric(descHits, prometheus.GaugeValue, float64(st.Hits))
	ch <- prometheus.MustNewConstMetric(descMisses, prometheus.GaugeValue, float64(st.Misses))
	ch <- prometheus.MustNewConstMetric(descEvictions, prometheus.GaugeValue, float64(st.Evictions))
	ch <- prometheus.MustNewConstMetric(descEntries, prometheus.GaugeValue, float64(st.Entries))
	ch <- prometheus.MustNewConstMetric(descTenants, prometheus.GaugeValue, float64(st.Tenants))
}

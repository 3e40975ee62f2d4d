package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/isometry/dirprov/internal/cache"
)

// CacheCollector reports the statistics of a cache set at scrape time.
type CacheCollector struct {
	set *cache.Set

	entries     *prometheus.Desc
	maxEntries  *prometheus.Desc
	hits        *prometheus.Desc
	misses      *prometheus.Desc
	evictions   *prometheus.Desc
	expirations *prometheus.Desc
	hitRate     *prometheus.Desc
	negative    *prometheus.Desc
}

// NewCacheCollector returns a collector over set.
func NewCacheCollector(set *cache.Set) *CacheCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, labels, nil)
	}
	return &CacheCollector{
		set:         set,
		entries:     desc("entries", "Entries currently cached.", "kind"),
		maxEntries:  desc("max_entries", "Configured maximum entries.", "kind"),
		hits:        desc("hits_total", "Cache hits since the last clear.", "kind"),
		misses:      desc("misses_total", "Cache misses since the last clear.", "kind"),
		evictions:   desc("evictions_total", "Entries evicted by the LRU policy.", "kind"),
		expirations: desc("expirations_total", "Entries dropped after their maximum age.", "kind"),
		hitRate:     desc("hit_ratio", "Hits divided by lookups since the last clear.", "kind"),
		negative:    desc("negative_entries", "Entries in the domain negative caches.", "lookup"),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.maxEntries
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
	ch <- c.expirations
	ch <- c.hitRate
	ch <- c.negative
}

// Collect is part of the prometheus.Collector interface.
func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	for _, st := range c.set.Stats() {
		ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(st.Entries), st.Name)
		ch <- prometheus.MustNewConstMetric(c.maxEntries, prometheus.GaugeValue, float64(st.MaxEntries), st.Name)
		ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(st.Hits), st.Name)
		ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(st.Misses), st.Name)
		ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(st.Evictions), st.Name)
		ch <- prometheus.MustNewConstMetric(c.expirations, prometheus.CounterValue, float64(st.Expirations), st.Name)
		ch <- prometheus.MustNewConstMetric(c.hitRate, prometheus.GaugeValue, st.HitRate, st.Name)
	}
	ch <- prometheus.MustNewConstMetric(c.negative, prometheus.GaugeValue, float64(c.set.ForeignNameMisses.Len()), "foreign_name")
	ch <- prometheus.MustNewConstMetric(c.negative, prometheus.GaugeValue, float64(c.set.VirtualHostnameMisses.Len()), "virtual_hostname")
}

// Package metrics exports nbmap statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/llxisdsh/nbmap"
)

// StatsSource is anything that reports map statistics; every nbmap map
// satisfies it.
type StatsSource interface {
	Stats() *nbmap.MapStats
}

// Collector reads a map's statistics on every scrape. Collecting finishes
// any migration in progress on the map.
type Collector struct {
	src StatsSource

	size        *prometheus.Desc
	capacity    *prometheus.Desc
	slotsUsed   *prometheus.Desc
	tombstones  *prometheus.Desc
	generations *prometheus.Desc
	growths     *prometheus.Desc
	copiedSlots *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for src. Metric names are
// <namespace>_nbmap_<metric> and carry a constant "map" label set to name.
func NewCollector(namespace, name string, src StatsSource) *Collector {
	labels := prometheus.Labels{"map": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "nbmap", metric), help, nil, labels)
	}
	return &Collector{
		src:         src,
		size:        desc("size", "Number of live entries."),
		capacity:    desc("capacity", "Entries the current table holds before resizing."),
		slotsUsed:   desc("slots_used", "Claimed key slots in the current table, tombstones included."),
		tombstones:  desc("tombstones", "Slots in the current table holding a removed key."),
		generations: desc("generations", "Tables the map has gone through."),
		growths:     desc("growths_total", "Resizes started."),
		copiedSlots: desc("copied_slots_total", "Slots migrated by finished resizes."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.capacity
	ch <- c.slotsUsed
	ch <- c.tombstones
	ch <- c.generations
	ch <- c.growths
	ch <- c.copiedSlots
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.Capacity))
	ch <- prometheus.MustNewConstMetric(c.slotsUsed, prometheus.GaugeValue, float64(s.SlotsUsed))
	ch <- prometheus.MustNewConstMetric(c.tombstones, prometheus.GaugeValue, float64(s.Tombstones))
	ch <- prometheus.MustNewConstMetric(c.generations, prometheus.GaugeValue, float64(s.Generation))
	ch <- prometheus.MustNewConstMetric(c.growths, prometheus.CounterValue, float64(s.TotalGrowths))
	ch <- prometheus.MustNewConstMetric(c.copiedSlots, prometheus.CounterValue, float64(s.CopiedSlots))
}

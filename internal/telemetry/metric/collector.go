package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Stats is the source the Collector reads at scrape time.
type Stats interface {
	// EntityCounts returns live entities per kind name.
	EntityCounts() map[string]int

	// TemplateCount returns the number of interned templates.
	TemplateCount() int

	// LastCheckpointSequence returns the sequence of the last committed
	// checkpoint, or 0.
	LastCheckpointSequence() uint64
}

// Collector exports registry sizes without keeping gauges in sync on every
// mutation.
type Collector struct {
	stats Stats

	entities  *prometheus.Desc
	templates *prometheus.Desc
	sequence  *prometheus.Desc
}

// NewCollector creates a collector over stats.
func NewCollector(stats Stats) *Collector {
	return &Collector{
		stats: stats,
		entities: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "registry", "entities"),
			"Live entities in the engine registry.",
			[]string{"kind"}, nil),
		templates: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "registry", "templates"),
			"Interned expression templates.",
			nil, nil),
		sequence: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "checkpoint", "sequence"),
			"Sequence of the last committed checkpoint.",
			nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entities
	ch <- c.templates
	ch <- c.sequence
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for kind, n := range c.stats.EntityCounts() {
		ch <- prometheus.MustNewConstMetric(c.entities, prometheus.GaugeValue, float64(n), kind)
	}
	ch <- prometheus.MustNewConstMetric(c.templates, prometheus.GaugeValue, float64(c.stats.TemplateCount()))
	ch <- prometheus.MustNewConstMetric(c.sequence, prometheus.GaugeValue, float64(c.stats.LastCheckpointSequence()))
}

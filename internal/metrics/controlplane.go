package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// JobStatsSource provides the aggregate counts the control plane exports.
// Implemented by the control-plane store.
type JobStatsSource interface {
	CountJobs(ctx context.Context) (int64, error)
	CountJobsByStatus(ctx context.Context) (map[string]int64, error)
	CountNodes(ctx context.Context) (int64, error)
}

// jobStatuses is the fixed label set; absent statuses are exported as zero so
// dashboards see a stable series set.
var jobStatuses = []string{"queued", "running", "succeeded", "failed"}

// ControlPlaneCollector exports job and node statistics computed from the
// database at scrape time.
type ControlPlaneCollector struct {
	source JobStatsSource

	jobsTotal    *prometheus.Desc
	jobsByStatus *prometheus.Desc
	nodesTotal   *prometheus.Desc
}

// NewControlPlaneCollector creates a collector backed by source and registers
// it on reg.
func NewControlPlaneCollector(reg *prometheus.Registry, source JobStatsSource) *ControlPlaneCollector {
	c := &ControlPlaneCollector{
		source: source,
		jobsTotal: prometheus.NewDesc(
			"replicator_jobs_total", "Total jobs", nil, nil,
		),
		jobsByStatus: prometheus.NewDesc(
			"replicator_jobs_by_status", "Jobs by status", []string{"status"}, nil,
		),
		nodesTotal: prometheus.NewDesc(
			"replicator_nodes_total", "Total registered nodes", nil, nil,
		),
	}
	reg.MustRegister(c)
	return c
}

// Describe implements prometheus.Collector.
func (c *ControlPlaneCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobsTotal
	ch <- c.jobsByStatus
	ch <- c.nodesTotal
}

// Collect implements prometheus.Collector. Failed queries drop the affected
// series from the scrape rather than failing it.
func (c *ControlPlaneCollector) Collect(ch chan<- prometheus.Metric) {
	ctx := context.Background()

	if total, err := c.source.CountJobs(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(c.jobsTotal, prometheus.CounterValue, float64(total))
	}

	if byStatus, err := c.source.CountJobsByStatus(ctx); err == nil {
		for _, status := range jobStatuses {
			ch <- prometheus.MustNewConstMetric(
				c.jobsByStatus, prometheus.GaugeValue, float64(byStatus[status]), status,
			)
		}
	}

	if nodes, err := c.source.CountNodes(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(c.nodesTotal, prometheus.GaugeValue, float64(nodes))
	}
}

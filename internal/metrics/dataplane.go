package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DataPlane holds the per-node counters exported by a data-plane service.
type DataPlane struct {
	ChunksPut  prometheus.Counter
	ChunksGet  prometheus.Counter
	ChunksHead prometheus.Counter

	BytesIn  prometheus.Counter
	BytesOut prometheus.Counter

	DedupeHits   prometheus.Counter
	DedupeMisses prometheus.Counter
}

// NewDataPlane registers the data-plane counters on reg.
func NewDataPlane(reg *prometheus.Registry) *DataPlane {
	return &DataPlane{
		ChunksPut: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "replicator_chunks_put_total",
			Help: "Total chunk PUTs",
		}),
		ChunksGet: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "replicator_chunks_get_total",
			Help: "Total chunk GETs",
		}),
		ChunksHead: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "replicator_chunks_head_total",
			Help: "Total chunk HEAD checks",
		}),
		BytesIn: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "replicator_bytes_in_total",
			Help: "Total bytes received by node",
		}),
		BytesOut: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "replicator_bytes_out_total",
			Help: "Total bytes sent by node",
		}),
		DedupeHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "replicator_dedupe_hits_total",
			Help: "Total dedupe hits (chunk already existed)",
		}),
		DedupeMisses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "replicator_dedupe_misses_total",
			Help: "Total dedupe misses (chunk stored)",
		}),
	}
}

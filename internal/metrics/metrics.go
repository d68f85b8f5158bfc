// Package metrics records per-run Prometheus metrics and writes them in the
// node_exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hurttlocker/smcluster/internal/cluster"
	"github.com/hurttlocker/smcluster/internal/graph"
)

const namespace = "smcluster"

// Run holds the metrics of one clustering run on its own registry.
type Run struct {
	reg *prometheus.Registry

	graphNodes    prometheus.Gauge
	graphEdges    prometheus.Gauge
	contentItems  prometheus.Gauge
	droppedGroups prometheus.Gauge
	largestGroup  prometheus.Gauge
	decisions     *prometheus.GaugeVec
	clusters      *prometheus.GaugeVec
	clustered     prometheus.Gauge
	stageDuration *prometheus.GaugeVec
	lastRun       prometheus.Gauge
}

// NewRun registers a fresh set of metrics.
func NewRun() *Run {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Run{
		reg: reg,
		graphNodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "graph_nodes",
			Help: "Pages present in the co-occurrence graph",
		}),
		graphEdges: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "graph_edges",
			Help: "Distinct page pairs that share content",
		}),
		contentItems: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "content_items",
			Help: "Content groups counted in the graph",
		}),
		droppedGroups: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "dropped_groups",
			Help: "Content groups dropped for exceeding the group size cap",
		}),
		largestGroup: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "largest_group_pages",
			Help: "Pages in the largest counted content group",
		}),
		decisions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "decisions",
			Help: "Clustering decisions by kind",
		}, []string{"decision"}),
		clusters: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "clusters",
			Help: "Clusters created and reported",
		}, []string{"kind"}),
		clustered: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "clustered_pages",
			Help: "Pages in reported clusters",
		}),
		stageDuration: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "stage_duration_seconds",
			Help: "Wall time of each pipeline stage",
		}, []string{"stage"}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_run_timestamp_seconds",
			Help: "Unix time the run finished",
		}),
	}
}

// Registry exposes the run's registry.
func (r *Run) Registry() *prometheus.Registry { return r.reg }

// ObserveGraph records graph statistics.
func (r *Run) ObserveGraph(s graph.Stats) {
	r.graphNodes.Set(float64(s.Nodes))
	r.graphEdges.Set(float64(s.Edges))
	r.contentItems.Set(float64(s.ContentItems))
	r.droppedGroups.Set(float64(s.DroppedGroups))
	r.largestGroup.Set(float64(s.LargestGroup))
}

// ObserveClustering records clusterer statistics.
func (r *Run) ObserveClustering(s cluster.Stats) {
	for kind, n := range s.ByDecision() {
		r.decisions.WithLabelValues(kind).Set(float64(n))
	}
	r.clusters.WithLabelValues("created").Set(float64(s.Clusters))
	r.clusters.WithLabelValues("reported").Set(float64(s.ReportedClusters))
	r.clustered.Set(float64(s.ClusteredNodes))
}

// ObserveStage records how long a named stage took.
func (r *Run) ObserveStage(stage string, d time.Duration) {
	r.stageDuration.WithLabelValues(stage).Set(d.Seconds())
}

// Time runs fn and records its duration under stage.
func (r *Run) Time(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.ObserveStage(stage, time.Since(start))
	return err
}

// Finish stamps the completion time.
func (r *Run) Finish(at time.Time) {
	r.lastRun.Set(float64(at.Unix()))
}

// WriteTextfile writes every metric to path atomically.
func (r *Run) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}

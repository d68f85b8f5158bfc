package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurttlocker/smcluster/internal/cluster"
	"github.com/hurttlocker/smcluster/internal/graph"
)

func TestObserveGraph(t *testing.T) {
	r := NewRun()
	r.ObserveGraph(graph.Stats{Nodes: 7, Edges: 9, ContentItems: 20, DroppedGroups: 1, LargestGroup: 4})

	assert.Equal(t, 7.0, testutil.ToFloat64(r.graphNodes))
	assert.Equal(t, 9.0, testutil.ToFloat64(r.graphEdges))
	assert.Equal(t, 20.0, testutil.ToFloat64(r.contentItems))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.droppedGroups))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.largestGroup))
}

func TestObserveClustering(t *testing.T) {
	r := NewRun()
	r.ObserveClustering(cluster.Stats{Joined: 3, Aggregators: 2, Seeded: 4, Clusters: 4, ReportedClusters: 2, ClusteredNodes: 5})

	assert.Equal(t, 3.0, testutil.ToFloat64(r.decisions.WithLabelValues(cluster.DecisionJoined.String())))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.decisions.WithLabelValues(cluster.DecisionAggregator.String())))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.decisions.WithLabelValues(cluster.DecisionInsufficient.String())))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.clusters.WithLabelValues("created")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.clusters.WithLabelValues("reported")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.clustered))
	assert.Equal(t, len(cluster.Stats{}.ByDecision()), testutil.CollectAndCount(r.decisions))
}

func TestTimeRecordsStageEvenOnError(t *testing.T) {
	r := NewRun()
	boom := errors.New("boom")
	err := r.Time("build", func() error {
		time.Sleep(time.Millisecond)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Greater(t, testutil.ToFloat64(r.stageDuration.WithLabelValues("build")), 0.0)
}

func TestWriteTextfile(t *testing.T) {
	r := NewRun()
	r.ObserveGraph(graph.Stats{Nodes: 3})
	r.Finish(time.Unix(1700000000, 0))

	path := filepath.Join(t.TempDir(), "smcluster.prom")
	require.NoError(t, r.WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, "smcluster_graph_nodes 3")
	assert.Contains(t, out, "# HELP smcluster_graph_edges")
	assert.True(t, strings.Contains(out, "smcluster_last_run_timestamp_seconds 1.7e+09"), out)
}

func TestRunsAreIndependent(t *testing.T) {
	a, b := NewRun(), NewRun()
	a.ObserveGraph(graph.Stats{Nodes: 1})
	assert.Equal(t, 0.0, testutil.ToFloat64(b.graphNodes))
	assert.NotSame(t, a.Registry(), b.Registry())
}

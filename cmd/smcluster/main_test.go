package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurttlocker/smcluster/internal/config"
	"github.com/hurttlocker/smcluster/internal/report"
	"github.com/hurttlocker/smcluster/internal/store"
)

type harness struct {
	t      *testing.T
	dir    string
	cfg    string
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, dir: t.TempDir(), cfg: filepath.Join(t.TempDir(), "none.yaml")}
}

func (h *harness) run(args ...string) error {
	h.stdout.Reset()
	h.stderr.Reset()
	full := append([]string{"smcluster", "--config", h.cfg, "--log-level", "warn"}, args...)
	return newApp(&h.stdout, &h.stderr).Run(full)
}

func (h *harness) path(name string) string { return filepath.Join(h.dir, name) }

// synth writes a dataset with two networks of four pages.
func (h *harness) synth() string {
	h.t.Helper()
	in := h.path("posts.csv")
	require.NoError(h.t, h.run("synth",
		"--pages", "30", "--networks", "2", "--network-size", "4",
		"--posts", "6", "--shared-posts", "10", "--overlap", "1", "--link-share", "0.5",
		"--seed", "3", "-o", in))
	assert.Contains(h.t, h.stdout.String(), "network 1:")
	return in
}

func TestClusterCSV(t *testing.T) {
	h := newHarness(t)
	in := h.synth()
	out := h.path("clusters.csv")

	require.NoError(t, h.run("cluster", "-o", out, in))
	assert.Equal(t, "Total clustered pages: 8\n", h.stdout.String())

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 9)
	assert.Equal(t, report.Columns, recs[0])
}

func TestClusterJSONWithMetrics(t *testing.T) {
	h := newHarness(t)
	in := h.synth()
	out := h.path("report.json")
	prom := filepath.Join(h.dir, "metrics", "smcluster.prom")
	require.NoError(t, os.MkdirAll(filepath.Dir(prom), 0o755))

	require.NoError(t, h.run("cluster", "-o", out, "--metrics-textfile", prom, "--workers", "2", in))

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	var rep struct {
		RunID    string `json:"run_id"`
		Clusters []any  `json:"clusters"`
		Rows     []any  `json:"rows"`
		Graph    struct {
			Nodes int `json:"nodes"`
		} `json:"graph"`
	}
	require.NoError(t, json.Unmarshal(b, &rep))
	assert.NotEmpty(t, rep.RunID)
	assert.Len(t, rep.Clusters, 2)
	assert.Len(t, rep.Rows, 8)
	assert.Equal(t, 30, rep.Graph.Nodes)

	metrics, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "smcluster_clustered_pages 8")
}

func TestClusterToStdout(t *testing.T) {
	h := newHarness(t)
	in := h.synth()

	require.NoError(t, h.run("cluster", "-o", "-", "--format", "csv", in))
	assert.True(t, strings.HasPrefix(h.stdout.String(), "cluster_id,cluster_seed,"))
	assert.Contains(t, h.stderr.String(), "Total clustered pages: 8")
}

func TestClusterSQLiteAndRuns(t *testing.T) {
	h := newHarness(t)
	in := h.synth()
	db := h.path("runs.db")

	require.NoError(t, h.run("cluster", "-o", db, in))
	require.NoError(t, h.run("cluster", "-o", db, "--min-threshold", "0.9", in))

	st, err := store.NewStore(store.StoreConfig{DBPath: db})
	require.NoError(t, err)
	runs, err := st.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.Len(t, runs, 2)
	assert.Equal(t, []string{in}, runs[0].Inputs)
	assert.Equal(t, 0.9, runs[0].Params[config.KeyMinThreshold])

	require.NoError(t, h.run("runs", "list", "--db", db))
	assert.Contains(t, h.stdout.String(), runs[1].ID)

	var full store.Run
	for _, r := range runs {
		if r.ClusteredPages == 8 {
			full = r
		}
	}
	require.NotEmpty(t, full.ID)
	require.NoError(t, h.run("runs", "show", "--db", db, full.ID))
	recs, err := csv.NewReader(strings.NewReader(h.stdout.String())).ReadAll()
	require.NoError(t, err)
	assert.Len(t, recs, 9)

	assert.Error(t, h.run("runs", "show", "--db", db, "missing"))
}

func TestClusterErrors(t *testing.T) {
	h := newHarness(t)
	in := h.synth()

	assert.Error(t, h.run("cluster"))

	err := h.run("cluster", "--min-threshold", "2", in)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	err = h.run("cluster", "--second-cluster-factor", "0.5", in)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	err = h.run("cluster", "--format", "xml", in)
	assert.ErrorContains(t, err, "unknown format")

	err = h.run("cluster", "--add-language", "-o", h.path("x.csv"), in)
	assert.ErrorContains(t, err, "model_path")

	assert.Error(t, h.run("cluster", h.path("missing.csv")))
}

func TestOutputFormat(t *testing.T) {
	for _, tc := range []struct{ explicit, output, want string }{
		{"", "out.csv", formatCSV},
		{"", "out.JSON", formatJSON},
		{"", "runs.sqlite", formatSQLite},
		{"", "-", formatCSV},
		{"json", "out.csv", formatJSON},
	} {
		got, err := outputFormat(tc.explicit, tc.output)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%q %q", tc.explicit, tc.output)
	}
	_, err := outputFormat("sqlite", "-")
	assert.Error(t, err)
}

func TestConfigCommand(t *testing.T) {
	h := newHarness(t)
	t.Setenv("SMCLUSTER_MIN_THRESHOLD", "0.2")

	require.NoError(t, h.run("config", "--json"))
	var resolved config.ResolvedConfig
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &resolved))
	assert.Equal(t, h.cfg, resolved.ConfigPath)
	assert.Equal(t, config.SourceEnv, resolved.Get(config.KeyMinThreshold).Source)
	assert.Equal(t, config.SourceCLI, resolved.Get(config.KeyLogLevel).Source)

	require.NoError(t, h.run("config"))
	assert.Contains(t, h.stdout.String(), "SMCLUSTER_MIN_THRESHOLD")
}

func TestVersion(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run("version"))
	assert.Equal(t, "smcluster "+version+"\n", h.stdout.String())
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurttlocker/smcluster/internal/affinity"
	"github.com/hurttlocker/smcluster/internal/report"
)

// newTestStore creates an in-memory store for testing.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewStore(StoreConfig{DBPath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRows() []report.Row {
	return []report.Row{
		{ClusterID: 3, ClusterSeed: "a", ClusterSize: 2, ClusterScore: 4.2, NameID: "a", Title: "Page A",
			Followers: 100, TotalInteractions: 7, NumPosts: 5, CoverageWithinCluster: 1,
			PMIWithSeed: affinity.PMI{Value: 0.5, Signal: true}, NPMIWithSeed: 1, DNPMIWithSeed: 0.9, DNPMICov: 0.9,
			Country: "US", URL: "https://example.com/a", ClusterLang: "en", PageLang: "en"},
		{ClusterID: 3, ClusterSeed: "a", ClusterSize: 2, ClusterScore: 4.2, NameID: "b", Title: "Page B",
			Followers: 3, NumPosts: 2, CoverageWithinCluster: 0.25,
			NPMIWithSeed: -1, DNPMIWithSeed: -0.2, DNPMICov: -0.05},
	}
}

func TestNewStoreCreatesTables(t *testing.T) {
	s := newTestStore(t)
	for _, table := range []string{"meta", "runs", "cluster_members"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		assert.NoError(t, err, "table %q", table)
	}

	var version string
	require.NoError(t, s.db.QueryRow("SELECT value FROM meta WHERE key='schema_version'").Scan(&version))
	assert.Equal(t, schemaVersion, version)
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")
	s, err := NewStore(StoreConfig{DBPath: path})
	require.NoError(t, err)
	id, err := s.SaveRun(context.Background(), Run{Inputs: []string{"x.csv"}}, sampleRows())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewStore(StoreConfig{DBPath: path})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.Path())

	rows, err := s.RunRows(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSaveRunRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	id, err := s.SaveRun(ctx, Run{
		CreatedAt:      created,
		Inputs:         []string{"a.csv", "b.tsv"},
		Params:         map[string]any{"min_threshold": 0.03},
		Nodes:          10,
		Edges:          12,
		ContentItems:   40,
		Clusters:       1,
		ClusteredPages: 2,
	}, sampleRows())
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.True(t, created.Equal(run.CreatedAt))
	assert.Equal(t, []string{"a.csv", "b.tsv"}, run.Inputs)
	assert.Equal(t, 0.03, run.Params["min_threshold"])
	assert.Equal(t, 12, run.Edges)
	assert.Equal(t, 2, run.ClusteredPages)

	rows, err := s.RunRows(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, sampleRows(), rows)
	assert.False(t, rows[1].PMIWithSeed.Signal)
}

func TestSaveRunKeepsGivenID(t *testing.T) {
	s := newTestStore(t)
	id, err := s.SaveRun(context.Background(), Run{ID: "fixed"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "fixed", id)

	_, err = s.SaveRun(context.Background(), Run{ID: "fixed"}, nil)
	assert.Error(t, err)
}

func TestSaveRunRollsBackOnDuplicateMember(t *testing.T) {
	s := newTestStore(t)
	rows := sampleRows()
	rows[1].NameID = rows[0].NameID

	_, err := s.SaveRun(context.Background(), Run{ID: "dup"}, rows)
	require.Error(t, err)

	_, err = s.GetRun(context.Background(), "dup")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		_, err := s.SaveRun(ctx, Run{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Hour)}, nil)
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)

	runs, err = s.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "new", runs[0].ID)
}

func TestDeleteRunRemovesMembers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.SaveRun(ctx, Run{}, sampleRows())
	require.NoError(t, err)

	require.NoError(t, s.DeleteRun(ctx, id))
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM cluster_members").Scan(&n))
	assert.Zero(t, n)

	assert.ErrorIs(t, s.DeleteRun(ctx, id), ErrRunNotFound)
	_, err = s.RunRows(ctx, id)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

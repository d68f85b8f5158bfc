// Package pipeline wires ingestion, graph building, clustering and report
// projection into one run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hurttlocker/smcluster/internal/cluster"
	"github.com/hurttlocker/smcluster/internal/graph"
	"github.com/hurttlocker/smcluster/internal/ingest"
	"github.com/hurttlocker/smcluster/internal/lang"
	"github.com/hurttlocker/smcluster/internal/logging"
	"github.com/hurttlocker/smcluster/internal/metrics"
	"github.com/hurttlocker/smcluster/internal/report"
)

// Stage names used for timing.
const (
	StageLoad     = "load"
	StageBuild    = "build"
	StageCluster  = "cluster"
	StageLanguage = "language"
)

// Options configures a run.
type Options struct {
	Ingest  ingest.Options
	Graph   graph.BuilderOptions
	Cluster cluster.Options
	// Language annotates rows with page and cluster languages when set.
	Language *lang.Handle
	Metrics  *metrics.Run
	Logger   *zap.Logger
}

// Result is the outcome of one run.
type Result struct {
	RunID        string
	StartedAt    time.Time
	FinishedAt   time.Time
	Dataset      *ingest.Dataset
	Graph        *graph.Graph
	Stats        cluster.Stats
	Rows         []report.Row
	Clusters     []report.ClusterSummary
	WithLanguage bool
}

// Report returns the JSON report document for the run.
func (r *Result) Report() report.Report {
	return report.Report{
		RunID:       r.RunID,
		GeneratedAt: r.FinishedAt,
		Graph:       r.Graph.Stats(),
		Clustering:  r.Stats,
		Clusters:    r.Clusters,
		Rows:        r.Rows,
	}
}

// Load reads the input files and builds the co-occurrence graph.
func Load(ctx context.Context, paths []string, opts Options) (*ingest.Dataset, *graph.Graph, error) {
	log := logging.OrNop(opts.Logger)
	m := opts.Metrics
	if m == nil {
		m = metrics.NewRun()
	}
	ingestOpts := opts.Ingest
	if opts.Language != nil {
		ingestOpts.KeepLanguageText = true
	}

	var ds *ingest.Dataset
	err := m.Time(StageLoad, func() error {
		var err error
		ds, err = ingest.Load(ctx, paths, ingestOpts)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("loading input: %w", err)
	}
	log.Info("loaded input",
		zap.Int("files", ds.Stats.Files),
		zap.Int("rows", ds.Stats.Rows),
		zap.Int("pages", len(ds.Pages)),
		zap.Int("content_items", ds.ContentItems()),
	)

	var g *graph.Graph
	err = m.Time(StageBuild, func() error {
		var err error
		g, err = graph.Build(ctx, ds.Groups, opts.Graph)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("building graph: %w", err)
	}
	m.ObserveGraph(g.Stats())
	log.Info("built graph",
		zap.Int("nodes", g.Stats().Nodes),
		zap.Int("edges", g.Stats().Edges),
		zap.Int("dropped_groups", g.Stats().DroppedGroups),
	)
	return ds, g, nil
}

// Cluster clusters a loaded dataset and projects the report rows.
func Cluster(ctx context.Context, ds *ingest.Dataset, g *graph.Graph, opts Options) (*Result, error) {
	log := logging.OrNop(opts.Logger)
	m := opts.Metrics
	if m == nil {
		m = metrics.NewRun()
	}
	res := &Result{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Dataset:   ds,
		Graph:     g,
	}

	copts := opts.Cluster
	if copts.Logger == nil {
		copts.Logger = log
	}
	c, err := cluster.New(copts)
	if err != nil {
		return nil, err
	}

	err = m.Time(StageCluster, func() error {
		stream, err := c.Run(g, ds.Nodes())
		if err != nil {
			return err
		}
		res.Rows, err = report.Project(stream.All(), ds.Pages)
		res.Stats = stream.Stats()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("clustering: %w", err)
	}
	m.ObserveClustering(res.Stats)

	if opts.Language != nil {
		err := m.Time(StageLanguage, func() error {
			return annotate(ctx, opts.Language, ds, res.Rows)
		})
		if err != nil {
			return nil, fmt.Errorf("detecting languages: %w", err)
		}
		res.WithLanguage = true
	}

	res.Clusters = report.Summarize(res.Rows)
	res.FinishedAt = time.Now().UTC()
	m.Finish(res.FinishedAt)
	log.Info("clustering complete",
		zap.String("run_id", res.RunID),
		zap.Int("clusters", res.Stats.ReportedClusters),
		zap.Int("clustered_pages", res.Stats.ClusteredNodes),
		zap.Int("aggregators", res.Stats.Aggregators),
	)
	return res, nil
}

// Run loads paths and clusters them.
func Run(ctx context.Context, paths []string, opts Options) (*Result, error) {
	ds, g, err := Load(ctx, paths, opts)
	if err != nil {
		return nil, err
	}
	return Cluster(ctx, ds, g, opts)
}

// annotate predicts languages for clustered pages only.
func annotate(ctx context.Context, h *lang.Handle, ds *ingest.Dataset, rows []report.Row) error {
	det, err := h.Detector()
	if err != nil {
		return err
	}
	texts := make(map[string][]string, len(rows))
	for _, r := range rows {
		texts[r.NameID] = ds.LangText[r.NameID]
	}
	langs, err := lang.PageLanguages(ctx, det, texts)
	if err != nil {
		return err
	}
	report.AnnotateLanguages(rows, langs)
	return nil
}

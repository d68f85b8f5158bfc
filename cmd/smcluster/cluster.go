package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hurttlocker/smcluster/internal/cluster"
	"github.com/hurttlocker/smcluster/internal/config"
	"github.com/hurttlocker/smcluster/internal/graph"
	"github.com/hurttlocker/smcluster/internal/ingest"
	"github.com/hurttlocker/smcluster/internal/lang"
	"github.com/hurttlocker/smcluster/internal/metrics"
	"github.com/hurttlocker/smcluster/internal/pipeline"
	"github.com/hurttlocker/smcluster/internal/report"
	"github.com/hurttlocker/smcluster/internal/store"
)

// Output formats.
const (
	formatCSV    = "csv"
	formatJSON   = "json"
	formatSQLite = "sqlite"
)

// clusteringFlags are shared by every command that clusters.
func clusteringFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{Name: "min-threshold", Usage: "minimum damped NPMI x coverage to join a cluster"},
		&cli.Float64Flag{Name: "second-cluster-factor", Usage: "how far the best cluster must lead the runner-up"},
		&cli.Float64Flag{Name: "dampening-factor", Usage: "mass scale of the low-mass dampener"},
		&cli.IntFlag{Name: "update-every", Usage: "log progress every N pages"},
		&cli.IntFlag{Name: "max-group-size", Usage: "drop content shared by more pages than this (0 keeps all)"},
		&cli.IntFlag{Name: "workers", Usage: "graph build workers (0 uses every CPU)"},
		&cli.StringSliceFlag{Name: "exclude", Usage: "content to ignore, replaces the defaults (empty content is always ignored)"},
	}
}

func clusterCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output file, - for stdout"},
		&cli.StringFlag{Name: "format", Usage: "csv, json or sqlite (default: by output extension)"},
		&cli.StringFlag{Name: "pmi-no-signal", Usage: "CSV value for pages that never co-occur with their seed"},
		&cli.BoolFlag{Name: "add-language", Usage: "annotate pages and clusters with their language"},
		&cli.StringFlag{Name: "model", Usage: "ONNX language model"},
		&cli.StringFlag{Name: "tokenizer", Usage: "tokenizer.json of the language model"},
		&cli.StringFlag{Name: "labels", Usage: "config.json holding the model's id2label"},
		&cli.StringFlag{Name: "ort-lib", Usage: "onnxruntime shared library"},
		&cli.IntFlag{Name: "max-tokens", Usage: "tokens fed to the language model per post"},
		&cli.StringFlag{Name: "metrics-textfile", Usage: "write Prometheus metrics to this file"},
	}
	return &cli.Command{
		Name:      "cluster",
		Usage:     "cluster the pages of one or more CrowdTangle exports",
		ArgsUsage: "INPUT...",
		Flags:     append(clusteringFlags(), flags...),
		Action:    runCluster,
	}
}

func runCluster(cctx *cli.Context) error {
	paths := cctx.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("usage: smcluster cluster INPUT... [--output FILE]")
	}
	s, log, err := settings(cctx)
	if err != nil {
		return err
	}
	defer log.Sync()

	format, err := outputFormat(cctx.String("format"), s.Output)
	if err != nil {
		return err
	}

	var handle *lang.Handle
	if cctx.Bool("add-language") {
		lcfg := languageConfig(s)
		if err := lcfg.Validate(); err != nil {
			return err
		}
		handle = lang.NewHandle(lcfg)
		defer handle.Close()
	}

	m := metrics.NewRun()
	res, err := pipeline.Run(cctx.Context, paths, pipelineOptions(s, log, m, handle))
	if err != nil {
		return err
	}

	if err := writeResult(cctx.Context, cctx.App.Writer, res, s, format, paths); err != nil {
		return err
	}
	log.Info("wrote report", zap.String("output", s.Output), zap.String("format", format), zap.Int("rows", len(res.Rows)))

	if s.MetricsTextfile != "" {
		if err := m.WriteTextfile(s.MetricsTextfile); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}

	out := cctx.App.Writer
	if s.Output == "-" {
		out = cctx.App.ErrWriter
	}
	fmt.Fprintf(out, "Total clustered pages: %d\n", len(res.Rows))
	return nil
}

func pipelineOptions(s config.Settings, log *zap.Logger, m *metrics.Run, handle *lang.Handle) pipeline.Options {
	return pipeline.Options{
		Ingest: ingest.Options{Exclude: s.ExcludeContent},
		Graph: graph.BuilderOptions{
			MaxGroupSize: s.MaxGroupSize,
			Workers:      s.Workers,
		},
		Cluster: cluster.Options{
			MinThreshold:        s.MinThreshold,
			SecondClusterFactor: s.SecondClusterFactor,
			DampeningFactor:     s.DampeningFactor,
			ProgressEvery:       s.UpdateEvery,
			SeedMinMass:         cluster.DefaultSeedMinMass,
			Logger:              log,
		},
		Language: handle,
		Metrics:  m,
		Logger:   log,
	}
}

func languageConfig(s config.Settings) lang.Config {
	return lang.Config{
		ModelPath:     s.Language.ModelPath,
		TokenizerPath: s.Language.TokenizerPath,
		ConfigPath:    s.Language.ConfigPath,
		LibraryPath:   s.Language.ORTLibrary,
		MaxTokens:     s.Language.MaxTokens,
	}
}

// outputFormat picks the explicit format or infers it from the file name.
func outputFormat(explicit, output string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(explicit)); f {
	case formatCSV, formatJSON, formatSQLite:
		if f == formatSQLite && output == "-" {
			return "", fmt.Errorf("sqlite output needs a file")
		}
		return f, nil
	case "":
	default:
		return "", fmt.Errorf("unknown format %q (want csv, json or sqlite)", explicit)
	}
	switch strings.ToLower(filepath.Ext(output)) {
	case ".json":
		return formatJSON, nil
	case ".db", ".sqlite", ".sqlite3":
		return formatSQLite, nil
	}
	return formatCSV, nil
}

func writeResult(ctx context.Context, stdout io.Writer, res *pipeline.Result, s config.Settings, format string, inputs []string) error {
	if format == formatSQLite {
		st, err := store.NewStore(store.StoreConfig{DBPath: s.Output})
		if err != nil {
			return err
		}
		defer st.Close()
		gs := res.Graph.Stats()
		_, err = st.SaveRun(ctx, store.Run{
			ID:             res.RunID,
			CreatedAt:      res.FinishedAt,
			Inputs:         inputs,
			Params:         s.Params(),
			Nodes:          gs.Nodes,
			Edges:          gs.Edges,
			ContentItems:   gs.ContentItems,
			Clusters:       res.Stats.ReportedClusters,
			ClusteredPages: res.Stats.ClusteredNodes,
		}, res.Rows)
		return err
	}

	return withOutput(s.Output, stdout, func(w io.Writer) error {
		if format == formatJSON {
			return report.WriteJSON(w, res.Report())
		}
		return report.WriteCSV(w, res.Rows, report.CSVOptions{
			WithLanguage: res.WithLanguage,
			PMINoSignal:  s.PMINoSignal,
		})
	})
}

// withOutput opens path (or stdout for "-") and hands fn a buffered writer.
func withOutput(path string, stdout io.Writer, fn func(io.Writer) error) error {
	if path == "-" {
		bw := bufio.NewWriter(stdout)
		if err := fn(bw); err != nil {
			return err
		}
		return bw.Flush()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err := fn(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

package main

import (
	"fmt"

	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hurttlocker/smcluster/internal/mcp"
	"github.com/hurttlocker/smcluster/internal/metrics"
	"github.com/hurttlocker/smcluster/internal/pipeline"
	"github.com/hurttlocker/smcluster/internal/store"
)

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:      "mcp",
		Usage:     "serve a dataset over MCP on stdio",
		ArgsUsage: "INPUT...",
		Flags: append(clusteringFlags(),
			&cli.StringFlag{Name: "store", Usage: "SQLite file where smcluster_run can save runs"},
		),
		Action: func(cctx *cli.Context) error {
			paths := cctx.Args().Slice()
			if len(paths) == 0 {
				return fmt.Errorf("usage: smcluster mcp INPUT...")
			}
			s, log, err := settings(cctx)
			if err != nil {
				return err
			}
			defer log.Sync()

			opts := pipelineOptions(s, log, metrics.NewRun(), nil)
			ds, g, err := pipeline.Load(cctx.Context, paths, opts)
			if err != nil {
				return err
			}

			cfg := mcp.ServerConfig{
				Dataset: ds,
				Graph:   g,
				Cluster: opts.Cluster,
				Inputs:  paths,
				Version: version,
				Logger:  log,
			}
			if path := cctx.String("store"); path != "" {
				st, err := store.NewStore(store.StoreConfig{DBPath: path})
				if err != nil {
					return err
				}
				defer st.Close()
				cfg.Store = st
			}

			log.Info("serving MCP on stdio", zap.Int("pages", len(ds.Pages)))
			return server.ServeStdio(mcp.NewServer(cfg))
		},
	}
}

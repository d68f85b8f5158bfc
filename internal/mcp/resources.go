package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/smcluster/internal/store"
)

// Resource URIs.
const (
	DatasetStatsURI = "smcluster://dataset/stats"
	RunsURI         = "smcluster://runs"
)

func registerDatasetStatsResource(s *server.MCPServer, cfg ServerConfig) {
	resource := mcp.NewResource(
		DatasetStatsURI,
		"Dataset Stats",
		mcp.WithResourceDescription("Input files, load counters and co-occurrence graph statistics of the loaded dataset."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dataMu.Lock()
		defer dataMu.Unlock()

		payload := map[string]any{
			"inputs":        cfg.Inputs,
			"pages":         len(cfg.Dataset.Pages),
			"content_items": cfg.Dataset.ContentItems(),
			"load":          cfg.Dataset.Stats,
			"graph":         cfg.Graph.Stats(),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

func registerRunsResource(s *server.MCPServer, st *store.SQLiteStore) {
	resource := mcp.NewResource(
		RunsURI,
		"Saved Runs",
		mcp.WithResourceDescription("The 50 most recent clustering runs saved to the run store."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dataMu.Lock()
		defer dataMu.Unlock()

		runs, err := st.ListRuns(ctx, 50)
		if err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		if runs == nil {
			runs = []store.Run{}
		}
		payload := map[string]any{
			"runs":  runs,
			"count": len(runs),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

// Package mcp exposes a loaded dataset over the Model Context Protocol.
//
// Tools run clustering with caller-chosen thresholds, score a pair of pages
// and list a page's strongest neighbors. Resources describe the dataset and
// the runs saved to the store.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hurttlocker/smcluster/internal/affinity"
	"github.com/hurttlocker/smcluster/internal/cluster"
	"github.com/hurttlocker/smcluster/internal/graph"
	"github.com/hurttlocker/smcluster/internal/ingest"
	"github.com/hurttlocker/smcluster/internal/logging"
	"github.com/hurttlocker/smcluster/internal/pipeline"
	"github.com/hurttlocker/smcluster/internal/store"
)

// Defaults and caps for tool arguments.
const (
	DefaultRowLimit      = 100
	MaxRowLimit          = 5000
	DefaultNeighborLimit = 10
	MaxNeighborLimit     = 200
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Dataset *ingest.Dataset
	Graph   *graph.Graph
	// Cluster holds the thresholds used when a tool call leaves them unset.
	Cluster cluster.Options
	// Store is optional; without it runs cannot be saved.
	Store   *store.SQLiteStore
	Inputs  []string
	Version string
	Logger  *zap.Logger
}

// dataMu serializes tool calls. mcp-go dispatches handlers concurrently and
// SQLite accepts one writer at a time.
var dataMu sync.Mutex

// NewServer creates a configured MCP server with all smcluster tools and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	cfg.Logger = logging.OrNop(cfg.Logger).Named("mcp")
	if cfg.Cluster.MinThreshold == 0 && cfg.Cluster.SecondClusterFactor == 0 {
		cfg.Cluster = cluster.DefaultOptions()
	}

	s := server.NewMCPServer(
		"smcluster",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerRunTool(s, cfg)
	registerAffinityTool(s, cfg)
	registerNeighborsTool(s, cfg)

	registerDatasetStatsResource(s, cfg)
	if cfg.Store != nil {
		registerRunsResource(s, cfg.Store)
	}
	return s
}

// --- Tools ---

type runResult struct {
	RunID    string             `json:"run_id"`
	Saved    bool               `json:"saved"`
	Stats    cluster.Stats      `json:"stats"`
	Clusters any                `json:"clusters"`
	Rows     any                `json:"rows"`
	RowCount int                `json:"row_count"`
	Params   map[string]float64 `json:"params"`
}

func registerRunTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("smcluster_run",
		mcp.WithDescription("Cluster the loaded pages by shared identical content. Returns per-cluster summaries and the top report rows. Thresholds default to the server's configuration."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("min_threshold",
			mcp.Description("Minimum damped-NPMI x coverage score to join a cluster, in [0,1]"),
		),
		mcp.WithNumber("second_cluster_factor",
			mcp.Description("How much the best cluster must beat the runner-up before an ambiguous page joins it (>= 1)"),
		),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum report rows returned (default: %d, max: %d)", DefaultRowLimit, MaxRowLimit)),
		),
		mcp.WithBoolean("save",
			mcp.Description("Store the run in the runs database (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dataMu.Lock()
		defer dataMu.Unlock()

		opts := cfg.Cluster
		opts.Logger = cfg.Logger
		if v, err := req.RequireFloat("min_threshold"); err == nil {
			opts.MinThreshold = v
		}
		if v, err := req.RequireFloat("second_cluster_factor"); err == nil {
			opts.SecondClusterFactor = v
		}
		limit := DefaultRowLimit
		if v, err := req.RequireFloat("limit"); err == nil && v > 0 {
			limit = min(int(v), MaxRowLimit)
		}
		save := req.GetBool("save", false)
		if save && cfg.Store == nil {
			return mcp.NewToolResultError("no run store configured"), nil
		}

		res, err := pipeline.Cluster(ctx, cfg.Dataset, cfg.Graph, pipeline.Options{Cluster: opts, Logger: cfg.Logger})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("clustering failed: %v", err)), nil
		}

		out := runResult{
			RunID:    res.RunID,
			Stats:    res.Stats,
			Clusters: res.Clusters,
			RowCount: len(res.Rows),
			Params: map[string]float64{
				"min_threshold":         opts.MinThreshold,
				"second_cluster_factor": opts.SecondClusterFactor,
				"dampening_factor":      opts.DampeningFactor,
			},
		}
		rows := res.Rows
		if len(rows) > limit {
			rows = rows[:limit]
		}
		out.Rows = rows

		if save {
			params := make(map[string]any, len(out.Params))
			for k, v := range out.Params {
				params[k] = v
			}
			gs := cfg.Graph.Stats()
			_, err := cfg.Store.SaveRun(ctx, store.Run{
				ID:             res.RunID,
				CreatedAt:      res.FinishedAt,
				Inputs:         cfg.Inputs,
				Params:         params,
				Nodes:          gs.Nodes,
				Edges:          gs.Edges,
				ContentItems:   gs.ContentItems,
				Clusters:       res.Stats.ReportedClusters,
				ClusteredPages: res.Stats.ClusteredNodes,
			}, res.Rows)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("saving run: %v", err)), nil
			}
			out.Saved = true
		}

		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

type pairResult struct {
	X          string        `json:"x"`
	Y          string        `json:"y"`
	MassX      int           `json:"mass_x"`
	MassY      int           `json:"mass_y"`
	Degenerate bool          `json:"degenerate"`
	Combined   float64       `json:"combined"`
	Scores     affinity.Pair `json:"scores"`
}

func registerAffinityTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("smcluster_affinity",
		mcp.WithDescription("Score how strongly two pages share content: coverage, PMI, NPMI and damped NPMI, as used when page y is considered for the cluster seeded by page x."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("x",
			mcp.Required(),
			mcp.Description("Page id of the seed"),
		),
		mcp.WithString("y",
			mcp.Required(),
			mcp.Description("Page id of the candidate"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dataMu.Lock()
		defer dataMu.Unlock()

		x, err := req.RequireString("x")
		if err != nil {
			return mcp.NewToolResultError("x is required"), nil
		}
		y, err := req.RequireString("y")
		if err != nil {
			return mcp.NewToolResultError("y is required"), nil
		}
		for _, id := range []string{x, y} {
			if !cfg.Graph.Has(id) {
				return mcp.NewToolResultError(fmt.Sprintf("page %q is not in the graph", id)), nil
			}
		}

		scorer, err := affinity.New(cfg.Graph, affinity.Options{DampeningFactor: cfg.Cluster.DampeningFactor})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		p := scorer.Pair(x, y)
		out := pairResult{
			X:          x,
			Y:          y,
			MassX:      cfg.Graph.Mass(x),
			MassY:      cfg.Graph.Mass(y),
			Degenerate: scorer.Degenerate(x, y),
			Combined:   p.Combined(),
			Scores:     p,
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

type neighbor struct {
	Page       string  `json:"page"`
	Title      string  `json:"title,omitempty"`
	Cooccur    int     `json:"cooccur"`
	Coverage   float64 `json:"coverage"`
	DampedNPMI float64 `json:"dnpmi"`
	Score      float64 `json:"score"`
}

func registerNeighborsTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("smcluster_neighbors",
		mcp.WithDescription("List the pages that share the most content with a page, ranked by damped NPMI x coverage with the page as seed."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("page",
			mcp.Required(),
			mcp.Description("Page id"),
		),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum neighbors (default: %d, max: %d)", DefaultNeighborLimit, MaxNeighborLimit)),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dataMu.Lock()
		defer dataMu.Unlock()

		page, err := req.RequireString("page")
		if err != nil {
			return mcp.NewToolResultError("page is required"), nil
		}
		if !cfg.Graph.Has(page) {
			return mcp.NewToolResultError(fmt.Sprintf("page %q is not in the graph", page)), nil
		}
		limit := DefaultNeighborLimit
		if v, err := req.RequireFloat("limit"); err == nil && v > 0 {
			limit = min(int(v), MaxNeighborLimit)
		}

		scorer, err := affinity.New(cfg.Graph, affinity.Options{DampeningFactor: cfg.Cluster.DampeningFactor})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		var out []neighbor
		cfg.Graph.Neighbors(page, func(id string, c int) bool {
			p := scorer.Pair(page, id)
			out = append(out, neighbor{
				Page:       id,
				Title:      cfg.Dataset.Pages[id].Title,
				Cooccur:    c,
				Coverage:   p.Coverage,
				DampedNPMI: p.DampedNPMI,
				Score:      p.Combined(),
			})
			return true
		})
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
		if len(out) > limit {
			out = out[:limit]
		}

		payload := map[string]any{
			"page":      page,
			"mass":      cfg.Graph.Mass(page),
			"degree":    cfg.Graph.Degree(page),
			"neighbors": out,
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

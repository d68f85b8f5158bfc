// Package cluster assigns pages to seed-anchored networks.
//
// The clusterer walks pages from heaviest to lightest and makes one
// irrevocable decision per page:
//
//  1. Skip pages absent from the graph or seen in at most one content item.
//  2. Score every existing cluster whose seed shares content with the page:
//     score = damped_npmi(seed, page) * coverage(seed, page).
//  3. Candidates are clusters scoring at least MinThreshold, best first.
//  4. One candidate: join it. Several: join the best only if it beats the
//     runner-up by SecondClusterFactor, otherwise the page is treated as an
//     aggregator spanning networks and left out. None: seed a new cluster
//     when the page has more than SeedMinMass items.
//
// Processing order decides which page seeds a cluster, so ties in weight
// keep input order.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/hurttlocker/smcluster/internal/affinity"
	"github.com/hurttlocker/smcluster/internal/graph"
)

const (
	DefaultMinThreshold        = 0.03
	DefaultSecondClusterFactor = 2.5
	DefaultProgressEvery       = 1000
	DefaultSeedMinMass         = 3
)

// ErrInvalidOptions is returned by New for out-of-range settings.
var ErrInvalidOptions = errors.New("invalid clustering options")

// Node is a page to cluster. Weight only orders processing.
type Node struct {
	ID     string
	Weight float64
}

// Options configures a Clusterer.
type Options struct {
	MinThreshold        float64
	SecondClusterFactor float64
	DampeningFactor     float64
	// ProgressEvery logs progress every N nodes. It never affects results.
	ProgressEvery int
	// SeedMinMass is the mass a page must exceed to seed a cluster.
	SeedMinMass int
	Logger      *zap.Logger
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		MinThreshold:        DefaultMinThreshold,
		SecondClusterFactor: DefaultSecondClusterFactor,
		DampeningFactor:     affinity.DefaultDampeningFactor,
		ProgressEvery:       DefaultProgressEvery,
		SeedMinMass:         DefaultSeedMinMass,
	}
}

func (o Options) validate() error {
	switch {
	case math.IsNaN(o.MinThreshold) || o.MinThreshold < 0 || o.MinThreshold > 1:
		return fmt.Errorf("%w: min threshold %v outside [0,1]", ErrInvalidOptions, o.MinThreshold)
	case math.IsNaN(o.SecondClusterFactor) || o.SecondClusterFactor < 1:
		return fmt.Errorf("%w: second cluster factor %v below 1", ErrInvalidOptions, o.SecondClusterFactor)
	case math.IsNaN(o.DampeningFactor) || o.DampeningFactor <= 0:
		return fmt.Errorf("%w: dampening factor %v must be positive", ErrInvalidOptions, o.DampeningFactor)
	case o.ProgressEvery < 1:
		return fmt.Errorf("%w: progress interval %d below 1", ErrInvalidOptions, o.ProgressEvery)
	case o.SeedMinMass < 1:
		return fmt.Errorf("%w: seed min mass %d below 1", ErrInvalidOptions, o.SeedMinMass)
	}
	return nil
}

// Clusterer runs agglomerative clustering. It is stateless between runs.
type Clusterer struct {
	opts Options
	log  *zap.Logger
}

// New validates opts and returns a Clusterer.
func New(opts Options) (*Clusterer, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Clusterer{opts: opts, log: log.Named("cluster")}, nil
}

// Options returns the clusterer's settings.
func (c *Clusterer) Options() Options { return c.opts }

type candidate struct {
	cluster int
	seed    string
	score   float64
}

// Run clusters nodes over g in a single pass and returns the record stream.
// g must not be mutated while the stream is in use.
func (c *Clusterer) Run(g *graph.Graph, nodes []Node) (*Stream, error) {
	scorer, err := affinity.New(g, affinity.Options{DampeningFactor: c.opts.DampeningFactor})
	if err != nil {
		return nil, err
	}

	ordered := make([]Node, len(nodes))
	copy(ordered, nodes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Weight > ordered[j].Weight
	})

	var (
		clusters [][]string
		stats    Stats
		cands    []candidate
	)
	total := len(ordered)
	for i, node := range ordered {
		verbose := i%c.opts.ProgressEvery == 0

		mass := g.Mass(node.ID)
		cands = cands[:0]
		var decision Decision
		switch {
		case !g.Has(node.ID):
			decision = DecisionSkippedMissing
		case mass <= 1:
			decision = DecisionSkippedLowMass
		default:
			for ci, members := range clusters {
				seed := members[0]
				if g.Cooccur(node.ID, seed) == 0 {
					continue
				}
				score := scorer.DampedNPMI(seed, node.ID) * scorer.Coverage(seed, node.ID)
				if score >= c.opts.MinThreshold {
					cands = append(cands, candidate{cluster: ci, seed: seed, score: score})
				}
			}
			sort.SliceStable(cands, func(a, b int) bool { return cands[a].score > cands[b].score })

			decision = c.decide(cands, mass)
			switch decision {
			case DecisionJoined, DecisionJoinedDominant:
				clusters[cands[0].cluster] = append(clusters[cands[0].cluster], node.ID)
			case DecisionSeeded:
				clusters = append(clusters, []string{node.ID})
			}
		}
		stats.record(decision)

		if verbose {
			c.log.Info("clustering progress",
				zap.Int("processed", stats.Processed),
				zap.Int("total", total),
				zap.Int("clusters", len(clusters)),
			)
			fields := []zap.Field{
				zap.String("node", node.ID),
				zap.Stringer("decision", decision),
				zap.Int("mass", mass),
				zap.Int("candidates", len(cands)),
			}
			if len(cands) > 0 {
				fields = append(fields, zap.String("best_seed", cands[0].seed), zap.Float64("best_score", cands[0].score))
			}
			c.log.Debug("clustering decision", fields...)
		}
	}

	stats.Clusters = len(clusters)
	for _, members := range clusters {
		if len(members) >= 2 {
			stats.ReportedClusters++
			stats.ClusteredNodes += len(members)
		}
	}
	c.log.Info("clustering finished",
		zap.Int("nodes", total),
		zap.Int("clusters", stats.Clusters),
		zap.Int("reported_clusters", stats.ReportedClusters),
		zap.Int("clustered_nodes", stats.ClusteredNodes),
		zap.Int("aggregators", stats.Aggregators),
	)

	return newStream(scorer, clusters, stats), nil
}

func (c *Clusterer) decide(cands []candidate, mass int) Decision {
	switch {
	case len(cands) == 1:
		return DecisionJoined
	case len(cands) > 1 && cands[0].score >= c.opts.MinThreshold &&
		cands[0].score >= cands[1].score*c.opts.SecondClusterFactor:
		return DecisionJoinedDominant
	case len(cands) > 1:
		return DecisionAggregator
	case mass > c.opts.SeedMinMass:
		return DecisionSeeded
	default:
		return DecisionInsufficient
	}
}

package graph

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"

	"github.com/tidwall/btree"
	"golang.org/x/sync/errgroup"
)

// ErrBuilderSpent is returned when a Builder is used after Build.
var ErrBuilderSpent = errors.New("graph builder already built")

// BuilderOptions configures graph construction.
type BuilderOptions struct {
	// MaxGroupSize drops content groups with more members than this.
	// Zero means no cap. Dropped groups do not count as content items.
	//
	// Building costs O(sum of group_size^2): one viral item shared by
	// thousands of pages produces millions of pair increments.
	MaxGroupSize int

	// Workers is the shard count used by Build. Zero means GOMAXPROCS.
	Workers int
}

// Builder accumulates content groups into a Graph.
type Builder struct {
	opts    BuilderOptions
	counts  map[string]map[string]int
	groups  int
	dropped int
	largest int
	spent   bool
}

// NewBuilder returns an empty Builder.
func NewBuilder(opts BuilderOptions) *Builder {
	return &Builder{
		opts:   opts,
		counts: make(map[string]map[string]int),
	}
}

// Add records one content group. Duplicate and empty ids are collapsed.
func (b *Builder) Add(group []string) error {
	if b.spent {
		return ErrBuilderSpent
	}
	members := uniqueMembers(group)
	if b.opts.MaxGroupSize > 0 && len(members) > b.opts.MaxGroupSize {
		b.dropped++
		return nil
	}
	b.groups++
	if len(members) > b.largest {
		b.largest = len(members)
	}
	for _, a := range members {
		row := b.counts[a]
		if row == nil {
			row = make(map[string]int)
			b.counts[a] = row
		}
		for _, c := range members {
			row[c]++
		}
	}
	return nil
}

// merge folds another builder's counts into b.
func (b *Builder) merge(o *Builder) {
	b.groups += o.groups
	b.dropped += o.dropped
	if o.largest > b.largest {
		b.largest = o.largest
	}
	for a, orow := range o.counts {
		row := b.counts[a]
		if row == nil {
			b.counts[a] = orow
			continue
		}
		for c, n := range orow {
			row[c] += n
		}
	}
}

// Build freezes the accumulated counts into a Graph. The builder cannot be
// used afterwards.
func (b *Builder) Build() *Graph {
	g := &Graph{adj: make(map[string]*btree.Map[string, int], len(b.counts))}
	pairs := 0
	for a, row := range b.counts {
		m := new(btree.Map[string, int])
		for c, n := range row {
			m.Set(c, n)
		}
		g.adj[a] = m
		pairs += len(row) - 1
	}
	g.stats = Stats{
		Nodes:         len(g.adj),
		Edges:         pairs / 2,
		ContentItems:  b.groups,
		DroppedGroups: b.dropped,
		LargestGroup:  b.largest,
	}
	b.counts = nil
	b.spent = true
	return g
}

// Build constructs a graph from groups, sharding the work across
// opts.Workers goroutines and merging the partial counts. The result is
// identical to adding every group to a single Builder.
func Build(ctx context.Context, groups [][]string, opts BuilderOptions) (*Graph, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(groups) {
		workers = len(groups)
	}
	if workers <= 1 {
		b := NewBuilder(opts)
		for i, grp := range groups {
			if i%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			if err := b.Add(grp); err != nil {
				return nil, err
			}
		}
		return b.Build(), nil
	}

	shards := make([]*Builder, workers)
	eg, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		shard := NewBuilder(opts)
		shards[w] = shard
		eg.Go(func() error {
			for i := w; i < len(groups); i += workers {
				if (i/workers)%4096 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				if err := shard.Add(groups[i]); err != nil {
					return fmt.Errorf("shard %d: %w", w, err)
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	root := shards[0]
	for _, s := range shards[1:] {
		root.merge(s)
	}
	return root.Build(), nil
}

func uniqueMembers(group []string) []string {
	members := make([]string, 0, len(group))
	for _, id := range group {
		if id != "" {
			members = append(members, id)
		}
	}
	slices.Sort(members)
	return slices.Compact(members)
}

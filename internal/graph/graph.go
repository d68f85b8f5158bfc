// Package graph holds the page co-occurrence graph.
//
// Each content group (the set of pages that published one byte-identical
// item) contributes one to the diagonal count of every member and one to
// every ordered pair of distinct members. The diagonal is a page's mass;
// off-diagonal entries are symmetric co-occurrence counts.
//
// A Graph is built once by a Builder and is read-only afterwards. Scorers
// and the clusterer only ever hold a *Graph.
package graph

import (
	"sort"

	"github.com/tidwall/btree"
)

// Stats summarizes a built graph.
type Stats struct {
	Nodes         int `json:"nodes"`
	Edges         int `json:"edges"`
	ContentItems  int `json:"content_items"`
	DroppedGroups int `json:"dropped_groups"`
	LargestGroup  int `json:"largest_group"`
}

// Graph is a sparse adjacency structure: node id -> neighbor id -> count.
// Neighbor maps are ordered by id so iteration is deterministic.
type Graph struct {
	adj   map[string]*btree.Map[string, int]
	stats Stats
}

// Has reports whether id appeared in at least one content group.
func (g *Graph) Has(id string) bool {
	_, ok := g.adj[id]
	return ok
}

// Mass returns the number of content groups containing id, or 0 when the
// node is absent.
func (g *Graph) Mass(id string) int {
	return g.Cooccur(id, id)
}

// Cooccur returns the number of content groups containing both x and y.
func (g *Graph) Cooccur(x, y string) int {
	row, ok := g.adj[x]
	if !ok {
		return 0
	}
	c, _ := row.Get(y)
	return c
}

// Neighbors calls fn for every node sharing content with id, in ascending
// id order. The node itself is not reported. Iteration stops when fn
// returns false.
func (g *Graph) Neighbors(id string, fn func(neighbor string, count int) bool) {
	row, ok := g.adj[id]
	if !ok {
		return
	}
	row.Scan(func(k string, v int) bool {
		if k == id {
			return true
		}
		return fn(k, v)
	})
}

// Degree returns the number of distinct neighbors of id.
func (g *Graph) Degree(id string) int {
	row, ok := g.adj[id]
	if !ok {
		return 0
	}
	return row.Len() - 1
}

// Nodes returns every node id in ascending order.
func (g *Graph) Nodes() []string {
	ids := make([]string, 0, len(g.adj))
	for id := range g.adj {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.adj) }

// ContentItems returns the number of content groups the graph was built from.
func (g *Graph) ContentItems() int { return g.stats.ContentItems }

// Stats returns build statistics.
func (g *Graph) Stats() Stats { return g.stats }

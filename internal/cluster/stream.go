package cluster

import (
	"iter"

	"github.com/hurttlocker/smcluster/internal/affinity"
)

// Record describes one member of a reported cluster, scored against the
// cluster's seed.
type Record struct {
	ClusterID             int          `json:"cluster_id"`
	ClusterSeed           string       `json:"cluster_seed"`
	ClusterSize           int          `json:"cluster_size"`
	Node                  string       `json:"node"`
	CoverageWithinCluster float64      `json:"coverage_within_cluster"`
	PMIWithSeed           affinity.PMI `json:"pmi_with_seed"`
	NPMIWithSeed          float64      `json:"npmi_with_seed"`
	DNPMIWithSeed         float64      `json:"dnpmi_with_seed"`
	DNPMICov              float64      `json:"dnpmi_cov"`
	NumOccurrences        int          `json:"num_occurrences"`
}

// Cluster is a finished cluster. Members[0] is the seed.
type Cluster struct {
	ID      int      `json:"id"`
	Seed    string   `json:"seed"`
	Members []string `json:"members"`
}

// Stream yields records for every cluster of size two or more, in cluster
// creation order then membership order. It is single-pass: once a record
// is read it cannot be read again. Consumers that need the records twice
// must Collect them.
type Stream struct {
	scorer   *affinity.Scorer
	clusters [][]string
	stats    Stats
	ci, mi   int
}

func newStream(scorer *affinity.Scorer, clusters [][]string, stats Stats) *Stream {
	return &Stream{scorer: scorer, clusters: clusters, stats: stats}
}

// Next returns the next record, or false when the stream is exhausted.
func (s *Stream) Next() (Record, bool) {
	for s.ci < len(s.clusters) {
		members := s.clusters[s.ci]
		if len(members) < 2 || s.mi >= len(members) {
			s.ci++
			s.mi = 0
			continue
		}
		node := members[s.mi]
		s.mi++
		return s.record(s.ci, members, node), true
	}
	return Record{}, false
}

// All ranges over the remaining records.
func (s *Stream) All() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for {
			r, ok := s.Next()
			if !ok || !yield(r) {
				return
			}
		}
	}
}

// Collect drains the stream into a slice.
func (s *Stream) Collect() []Record {
	var out []Record
	for r := range s.All() {
		out = append(out, r)
	}
	return out
}

// Stats returns the decision counts of the run that produced the stream.
func (s *Stream) Stats() Stats { return s.stats }

// Clusters returns a copy of every cluster, singletons included.
func (s *Stream) Clusters() []Cluster {
	out := make([]Cluster, len(s.clusters))
	for i, members := range s.clusters {
		out[i] = Cluster{ID: i, Seed: members[0], Members: append([]string(nil), members...)}
	}
	return out
}

func (s *Stream) record(id int, members []string, node string) Record {
	seed := members[0]
	p := s.scorer.Pair(seed, node)
	return Record{
		ClusterID:             id,
		ClusterSeed:           seed,
		ClusterSize:           len(members),
		Node:                  node,
		CoverageWithinCluster: p.Coverage,
		PMIWithSeed:           p.PMI,
		NPMIWithSeed:          p.NPMI,
		DNPMIWithSeed:         p.DampedNPMI,
		DNPMICov:              p.Combined(),
		NumOccurrences:        s.scorer.Graph().Mass(node),
	}
}

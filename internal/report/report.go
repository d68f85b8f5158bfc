// Package report joins cluster membership records with page metadata and
// renders the result.
package report

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/hurttlocker/smcluster/internal/affinity"
	"github.com/hurttlocker/smcluster/internal/cluster"
	"github.com/hurttlocker/smcluster/internal/ingest"
	"github.com/hurttlocker/smcluster/internal/lang"
)

// ErrUnknownPage is returned when a record names a page with no metadata.
var ErrUnknownPage = errors.New("page metadata not found")

// Row is one clustered page in the final report.
type Row struct {
	ClusterID             int          `json:"cluster_id"`
	ClusterSeed           string       `json:"cluster_seed"`
	ClusterSize           int          `json:"cluster_size"`
	ClusterScore          float64      `json:"cluster_score"`
	Title                 string       `json:"title"`
	NameID                string       `json:"nameid"`
	Followers             int64        `json:"followers"`
	TotalInteractions     int64        `json:"total_interactions"`
	NumPosts              int          `json:"num_posts"`
	CoverageWithinCluster float64      `json:"coverage_within_cluster"`
	PMIWithSeed           affinity.PMI `json:"pmi_with_seed"`
	NPMIWithSeed          float64      `json:"npmi_with_seed"`
	DNPMIWithSeed         float64      `json:"dnpmi_with_seed"`
	DNPMICov              float64      `json:"dnpmi_cov"`
	Country               string       `json:"country"`
	Name                  string       `json:"name"`
	URL                   string       `json:"url"`
	ClusterLang           string       `json:"cluster_lang,omitempty"`
	PageLang              string       `json:"page_lang,omitempty"`
}

// ClusterScore weights a cluster's size by its seed's audience.
func ClusterScore(size int, seedFollowers int64) float64 {
	return float64(size) * math.Log10(float64(seedFollowers)+1)
}

// Project joins records with page metadata and returns rows in report
// order: cluster score, cluster id, damped NPMI, coverage, interactions and
// followers, all descending.
func Project(records iter.Seq[cluster.Record], pages map[string]ingest.Page) ([]Row, error) {
	var rows []Row
	for r := range records {
		page, ok := pages[r.Node]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPage, r.Node)
		}
		seed, ok := pages[r.ClusterSeed]
		if !ok {
			return nil, fmt.Errorf("%w: seed %s", ErrUnknownPage, r.ClusterSeed)
		}
		rows = append(rows, Row{
			ClusterID:             r.ClusterID,
			ClusterSeed:           r.ClusterSeed,
			ClusterSize:           r.ClusterSize,
			ClusterScore:          ClusterScore(r.ClusterSize, seed.Followers),
			Title:                 page.Title,
			NameID:                page.NameID,
			Followers:             page.Followers,
			TotalInteractions:     page.TotalInteractions,
			NumPosts:              r.NumOccurrences,
			CoverageWithinCluster: r.CoverageWithinCluster,
			PMIWithSeed:           r.PMIWithSeed,
			NPMIWithSeed:          r.NPMIWithSeed,
			DNPMIWithSeed:         r.DNPMIWithSeed,
			DNPMICov:              r.DNPMICov,
			Country:               page.Country,
			Name:                  page.Name,
			URL:                   page.URL,
		})
	}
	sortRows(rows)
	return rows, nil
}

func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch {
		case a.ClusterScore != b.ClusterScore:
			return a.ClusterScore > b.ClusterScore
		case a.ClusterID != b.ClusterID:
			return a.ClusterID > b.ClusterID
		case a.DNPMIWithSeed != b.DNPMIWithSeed:
			return a.DNPMIWithSeed > b.DNPMIWithSeed
		case a.CoverageWithinCluster != b.CoverageWithinCluster:
			return a.CoverageWithinCluster > b.CoverageWithinCluster
		case a.TotalInteractions != b.TotalInteractions:
			return a.TotalInteractions > b.TotalInteractions
		default:
			return a.Followers > b.Followers
		}
	})
}

// AnnotateLanguages sets each row's page language from pageLangs (Unknown
// when absent) and each cluster's language by majority over its rows.
func AnnotateLanguages(rows []Row, pageLangs map[string]string) {
	bySeed := make(map[string][]string)
	for i := range rows {
		l, ok := pageLangs[rows[i].NameID]
		if !ok || l == "" {
			l = lang.Unknown
		}
		rows[i].PageLang = l
		bySeed[rows[i].ClusterSeed] = append(bySeed[rows[i].ClusterSeed], l)
	}
	clusterLang := make(map[string]string, len(bySeed))
	for seed, labels := range bySeed {
		clusterLang[seed] = lang.Majority(labels)
	}
	for i := range rows {
		rows[i].ClusterLang = clusterLang[rows[i].ClusterSeed]
	}
}

// ClusterSummary aggregates the rows of one cluster.
type ClusterSummary struct {
	ClusterID    int      `json:"cluster_id"`
	Seed         string   `json:"seed"`
	SeedTitle    string   `json:"seed_title"`
	Size         int      `json:"size"`
	Score        float64  `json:"score"`
	MeanCoverage float64  `json:"mean_coverage"`
	MeanDNPMICov float64  `json:"mean_dnpmi_cov"`
	Interactions int64    `json:"total_interactions"`
	Language     string   `json:"language,omitempty"`
	Members      []string `json:"members"`
}

// Summarize groups rows by cluster, keeping the rows' order.
func Summarize(rows []Row) []ClusterSummary {
	index := make(map[int]int)
	var out []ClusterSummary
	var coverage, dnpmiCov [][]float64
	for _, r := range rows {
		i, ok := index[r.ClusterID]
		if !ok {
			i = len(out)
			index[r.ClusterID] = i
			out = append(out, ClusterSummary{
				ClusterID: r.ClusterID,
				Seed:      r.ClusterSeed,
				Size:      r.ClusterSize,
				Score:     r.ClusterScore,
				Language:  r.ClusterLang,
			})
			coverage = append(coverage, nil)
			dnpmiCov = append(dnpmiCov, nil)
		}
		s := &out[i]
		if r.NameID == r.ClusterSeed {
			s.SeedTitle = r.Title
		}
		s.Members = append(s.Members, r.NameID)
		s.Interactions += r.TotalInteractions
		coverage[i] = append(coverage[i], r.CoverageWithinCluster)
		dnpmiCov[i] = append(dnpmiCov[i], r.DNPMICov)
	}
	for i := range out {
		out[i].MeanCoverage = stat.Mean(coverage[i], nil)
		out[i].MeanDNPMICov = stat.Mean(dnpmiCov[i], nil)
	}
	return out
}

package report

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/hurttlocker/smcluster/internal/cluster"
	"github.com/hurttlocker/smcluster/internal/graph"
)

// Columns is the CSV column order.
var Columns = []string{
	"cluster_id",
	"cluster_seed",
	"cluster_size",
	"cluster_score",
	"title",
	"nameid",
	"followers",
	"total_interactions",
	"num_posts",
	"coverage_within_cluster",
	"pmi_with_seed",
	"npmi_with_seed",
	"dnpmi_with_seed",
	"dnpmi_cov",
	"country",
	"name",
	"url",
}

// LanguageColumns are appended when rows carry language labels.
var LanguageColumns = []string{"cluster_lang", "page_lang"}

// CSVOptions controls CSV rendering.
type CSVOptions struct {
	WithLanguage bool
	// PMINoSignal is written for pages that never co-occur with their seed.
	PMINoSignal float64
}

// DefaultCSVOptions writes -inf for missing PMI.
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{PMINoSignal: math.Inf(-1)}
}

// WriteCSV renders rows with a header line.
func WriteCSV(w io.Writer, rows []Row, opts CSVOptions) error {
	cw := csv.NewWriter(w)
	header := append([]string(nil), Columns...)
	if opts.WithLanguage {
		header = append(header, LanguageColumns...)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			strconv.Itoa(r.ClusterID),
			r.ClusterSeed,
			strconv.Itoa(r.ClusterSize),
			formatFloat(r.ClusterScore),
			r.Title,
			r.NameID,
			strconv.FormatInt(r.Followers, 10),
			strconv.FormatInt(r.TotalInteractions, 10),
			strconv.Itoa(r.NumPosts),
			formatFloat(r.CoverageWithinCluster),
			formatFloat(r.PMIWithSeed.Or(opts.PMINoSignal)),
			formatFloat(r.NPMIWithSeed),
			formatFloat(r.DNPMIWithSeed),
			formatFloat(r.DNPMICov),
			r.Country,
			r.Name,
			r.URL,
		}
		if opts.WithLanguage {
			rec = append(rec, r.ClusterLang, r.PageLang)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsNaN(v):
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Report is the JSON document produced by a run.
type Report struct {
	RunID       string           `json:"run_id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Graph       graph.Stats      `json:"graph"`
	Clustering  cluster.Stats    `json:"clustering"`
	Clusters    []ClusterSummary `json:"clusters"`
	Rows        []Row            `json:"rows"`
}

// WriteJSON renders the report as indented JSON.
func WriteJSON(w io.Writer, rep Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

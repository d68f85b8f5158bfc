package ingest

import (
	"errors"

	"github.com/hurttlocker/smcluster/internal/cluster"
)

// CrowdTangle column names.
const (
	ColPageName     = "Page Name"
	ColUserName     = "User Name"
	ColFacebookID   = "Facebook Id"
	ColCountry      = "Page Admin Top Country"
	ColFollowers    = "Followers at Posting"
	ColPostCreated  = "Post Created"
	ColInteractions = "Total Interactions"
	ColURL          = "URL"
	ColLink         = "Link"
	ColMessage      = "Message"
	ColFinalLink    = "Final Link"
	ColImageText    = "Image Text"
	ColLinkText     = "Link Text"
	ColDescription  = "Description"

	// ColExternalLink is derived from Final Link / Link, not read from the file.
	ColExternalLink = "external_link"
)

// RequiredColumns must be present in every input file.
var RequiredColumns = []string{
	ColPageName, ColUserName, ColFacebookID, ColCountry, ColFollowers,
	ColInteractions, ColLink, ColMessage, ColFinalLink, ColImageText,
	ColLinkText, ColDescription,
}

// DefaultContentFields make up a post's content key.
var DefaultContentFields = []string{ColMessage, ColImageText, ColExternalLink, ColLinkText}

// DefaultLanguageFields are joined to form the text used for language detection.
var DefaultLanguageFields = []string{ColMessage, ColLinkText, ColDescription}

// DefaultExcludedContent is content that says nothing about coordination.
var DefaultExcludedContent = []string{"", "This is a re-share of a post"}

// ErrMissingColumn is returned when an input file lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

// Page is the metadata of one publishing page.
type Page struct {
	NameID            string `json:"nameid"`
	ID                string `json:"id"`
	Title             string `json:"title"`
	Name              string `json:"name"`
	Handle            string `json:"handle"`
	Followers         int64  `json:"followers"`
	Country           string `json:"country"`
	URL               string `json:"url"`
	TotalInteractions int64  `json:"total_interactions"`
	Posts             int    `json:"posts"`
}

// Options configures a Loader.
type Options struct {
	ContentFields  []string
	LanguageFields []string
	// Exclude lists content to skip, DefaultExcludedContent when nil.
	// Empty content is always skipped.
	Exclude []string
	// KeepLanguageText retains per-page language text for annotation.
	KeepLanguageText bool
}

func (o *Options) normalize() {
	if len(o.ContentFields) == 0 {
		o.ContentFields = DefaultContentFields
	}
	if len(o.LanguageFields) == 0 {
		o.LanguageFields = DefaultLanguageFields
	}
	if o.Exclude == nil {
		o.Exclude = DefaultExcludedContent
	}
}

// LoadStats summarizes what a Loader read.
type LoadStats struct {
	Files           int `json:"files"`
	Rows            int `json:"rows"`
	RowsWithoutPage int `json:"rows_without_page"`
	ExcludedRows    int `json:"excluded_rows"`
	BadCounts       int `json:"bad_counts"`
}

// Dataset is the normalized output of ingestion.
type Dataset struct {
	// Groups holds one entry per unique content item: the distinct pages
	// that published it. Ordered by content key.
	Groups [][]string
	// Pages maps page id to metadata.
	Pages map[string]Page
	// Order lists page ids in order of first appearance.
	Order []string
	// LangText holds each page's language text per post, when requested.
	LangText map[string][]string
	Stats    LoadStats
}

// ContentItems is the number of content groups.
func (d *Dataset) ContentItems() int { return len(d.Groups) }

// Nodes returns every page as a clustering node weighted by total
// interactions, in first-appearance order.
func (d *Dataset) Nodes() []cluster.Node {
	nodes := make([]cluster.Node, 0, len(d.Order))
	for _, id := range d.Order {
		nodes = append(nodes, cluster.Node{ID: id, Weight: float64(d.Pages[id].TotalInteractions)})
	}
	return nodes
}

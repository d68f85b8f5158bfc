package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Loader accumulates CrowdTangle exports into a Dataset. Files are read in
// the order given; page metadata comes from the first row seen for a page.
type Loader struct {
	opts     Options
	exclude  map[string]struct{}
	groups   map[string][]string
	inGroup  map[string]map[string]struct{}
	pages    map[string]*Page
	order    []string
	langText map[string][]string
	stats    LoadStats
}

// NewLoader returns an empty Loader.
func NewLoader(opts Options) *Loader {
	opts.normalize()
	ex := make(map[string]struct{}, len(opts.Exclude)+1)
	ex[""] = struct{}{}
	for _, e := range opts.Exclude {
		ex[e] = struct{}{}
	}
	return &Loader{
		opts:     opts,
		exclude:  ex,
		groups:   make(map[string][]string),
		inGroup:  make(map[string]map[string]struct{}),
		pages:    make(map[string]*Page),
		langText: make(map[string][]string),
	}
}

// CanHandle returns true for CSV/TSV file extensions.
func (l *Loader) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".csv" || ext == ".tsv"
}

// ReadFile reads one export from disk.
func (l *Loader) ReadFile(ctx context.Context, path string) error {
	if !l.CanHandle(path) {
		return fmt.Errorf("unsupported file type: %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	comma := ','
	if strings.ToLower(filepath.Ext(path)) == ".tsv" {
		comma = '\t'
	}
	if err := l.read(ctx, f, comma); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Read reads one comma-separated export from r.
func (l *Loader) Read(ctx context.Context, r io.Reader) error {
	return l.read(ctx, r, ',')
}

func (l *Loader) read(ctx context.Context, r io.Reader, comma rune) error {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty file: %w", ErrMissingColumn)
		}
		return err
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, col := range RequiredColumns {
		if _, ok := index[col]; !ok {
			return fmt.Errorf("%w: %q", ErrMissingColumn, col)
		}
	}
	l.stats.Files++

	row := make(map[string]string, len(index)+1)
	for line := 2; ; line++ {
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		for col, i := range index {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		l.addRow(row)
	}
}

func (l *Loader) addRow(row map[string]string) {
	l.stats.Rows++
	row[ColExternalLink] = externalLink(row[ColFinalLink], row[ColLink])

	nameID := row[ColUserName]
	if nameID == "" {
		nameID = row[ColFacebookID]
	}
	interactions, ok := parseCount(row[ColInteractions])
	if !ok {
		l.stats.BadCounts++
	}

	if nameID == "" {
		l.stats.RowsWithoutPage++
	} else {
		p, seen := l.pages[nameID]
		if !seen {
			followers, ok := parseCount(row[ColFollowers])
			if !ok {
				l.stats.BadCounts++
			}
			p = &Page{
				NameID:    nameID,
				ID:        row[ColFacebookID],
				Title:     row[ColPageName],
				Name:      row[ColUserName],
				Handle:    nameID,
				Followers: followers,
				Country:   row[ColCountry],
				URL:       "https://facebook.com/" + nameID,
			}
			l.pages[nameID] = p
			l.order = append(l.order, nameID)
		}
		p.TotalInteractions += interactions
		p.Posts++
		if l.opts.KeepLanguageText {
			l.langText[nameID] = append(l.langText[nameID], joinFields(row, l.opts.LanguageFields))
		}
	}

	content := joinFields(row, l.opts.ContentFields)
	if _, skip := l.exclude[content]; skip {
		l.stats.ExcludedRows++
		return
	}
	members, ok := l.inGroup[content]
	if !ok {
		members = make(map[string]struct{})
		l.inGroup[content] = members
		l.groups[content] = nil
	}
	if nameID == "" {
		return
	}
	if _, dup := members[nameID]; dup {
		return
	}
	members[nameID] = struct{}{}
	l.groups[content] = append(l.groups[content], nameID)
}

func joinFields(row map[string]string, fields []string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if v := row[f]; v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

// Dataset returns the accumulated dataset. The Loader may keep reading
// afterwards; each call returns a fresh snapshot.
func (l *Loader) Dataset() *Dataset {
	keys := make([]string, 0, len(l.groups))
	for k := range l.groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ds := &Dataset{
		Groups: make([][]string, 0, len(keys)),
		Pages:  make(map[string]Page, len(l.pages)),
		Order:  append([]string(nil), l.order...),
		Stats:  l.stats,
	}
	for _, k := range keys {
		ds.Groups = append(ds.Groups, append([]string(nil), l.groups[k]...))
	}
	for id, p := range l.pages {
		ds.Pages[id] = *p
	}
	if l.opts.KeepLanguageText {
		ds.LangText = make(map[string][]string, len(l.langText))
		for id, texts := range l.langText {
			ds.LangText[id] = append([]string(nil), texts...)
		}
	}
	return ds
}

// Load reads every path and returns the combined dataset.
func Load(ctx context.Context, paths []string, opts Options) (*Dataset, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no input files")
	}
	l := NewLoader(opts)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := l.ReadFile(ctx, p); err != nil {
			return nil, err
		}
	}
	return l.Dataset(), nil
}

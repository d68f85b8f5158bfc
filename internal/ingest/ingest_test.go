package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "Page Name,User Name,Facebook Id,Page Admin Top Country,Followers at Posting,Post Created,Total Interactions,URL,Link,Message,Final Link,Image Text,Link Text,Description\n"

func writeCSV(t *testing.T, name string, rows ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(header+strings.Join(rows, "\n")+"\n"), 0o644))
	return path
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"HTTPS://Example.COM/Path?utm_source=x&id=5&fbclid=abc#frag", "https://example.com/Path?id=5"},
		{"http://news.example.org/a?utm_medium=social", "http://news.example.org/a"},
		{"http://news.example.org/a?b=2&a=1", "http://news.example.org/a?b=2&a=1"},
		{"  ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeURL(tt.in), tt.in)
	}
}

func TestExternalLink(t *testing.T) {
	assert.Equal(t, "https://site.example/x", externalLink("https://SITE.example/x?utm_campaign=1", "https://other.example"))
	assert.Equal(t, "https://other.example/y", externalLink("", "https://other.example/y"))
	assert.Equal(t, "", externalLink("", "https://www.facebook.com/page/posts/1"))
	assert.Equal(t, "", externalLink("", "https://facebook.com/page/posts/1"))
	assert.Equal(t, "", externalLink("", ""))
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"1,234", 1234, true},
		{`"98"`, 98, true},
		{"", 0, true},
		{"12.0", 12, true},
		{"n/a", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseCount(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestLoadGroupsAndPages(t *testing.T) {
	path := writeCSV(t, "posts.csv",
		`Alpha News,alphanews,111,US,"1,000",2023-01-01,10,u1,,Same story,https://story.example/a?utm_source=fb,,,desc one`,
		`Beta Daily,betadaily,222,US,500,2023-01-01,"2,000",u2,,Same story,https://story.example/a?utm_source=tw,,,desc two`,
		`Alpha News,alphanews,111,CA,1200,2023-01-02,5,u3,,Another story,,,,`,
		`Gamma,,333,GB,7,2023-01-02,1,u4,https://www.facebook.com/333/posts/1,Another story,,,,`,
		`Beta Daily,betadaily,222,US,500,2023-01-03,0,u5,,,,,,`,
		`Delta,delta,444,US,3,2023-01-03,0,u6,,This is a re-share of a post,,,,`,
		`Alpha News,alphanews,111,US,1000,2023-01-04,1,u7,,Same story,https://story.example/a,,,`,
	)

	ds, err := Load(context.Background(), []string{path}, Options{KeepLanguageText: true})
	require.NoError(t, err)

	// Two unique, non-excluded contents.
	require.Equal(t, 2, ds.ContentItems())
	assert.Equal(t, []string{"alphanews", "333"}, ds.Groups[0])
	assert.Equal(t, []string{"alphanews", "betadaily"}, ds.Groups[1])

	assert.Equal(t, []string{"alphanews", "betadaily", "333", "delta"}, ds.Order)

	alpha := ds.Pages["alphanews"]
	assert.Equal(t, "Alpha News", alpha.Title)
	assert.Equal(t, int64(1000), alpha.Followers)
	assert.Equal(t, "US", alpha.Country)
	assert.Equal(t, int64(16), alpha.TotalInteractions)
	assert.Equal(t, 3, alpha.Posts)
	assert.Equal(t, "https://facebook.com/alphanews", alpha.URL)

	gamma := ds.Pages["333"]
	assert.Equal(t, "", gamma.Name)
	assert.Equal(t, "333", gamma.NameID)

	assert.Equal(t, int64(2000), ds.Pages["betadaily"].TotalInteractions)
	assert.Equal(t, 2, ds.Stats.ExcludedRows)
	assert.Equal(t, 7, ds.Stats.Rows)

	assert.Equal(t, []string{"Same story desc one", "Another story", "Same story"}, ds.LangText["alphanews"])

	nodes := ds.Nodes()
	require.Len(t, nodes, 4)
	assert.Equal(t, "alphanews", nodes[0].ID)
	assert.Equal(t, 16.0, nodes[0].Weight)
}

func TestLoadMultipleFilesAndTSV(t *testing.T) {
	a := writeCSV(t, "a.csv", `A,a,1,US,1,d,1,u,,hello,,,,`)
	dir := t.TempDir()
	b := filepath.Join(dir, "b.tsv")
	tsv := strings.ReplaceAll(header, ",", "\t") + strings.Join([]string{"B", "b", "2", "US", "1", "d", "1", "u", "", "hello", "", "", "", ""}, "\t") + "\n"
	require.NoError(t, os.WriteFile(b, []byte(tsv), 0o644))

	ds, err := Load(context.Background(), []string{a, b}, Options{})
	require.NoError(t, err)
	require.Len(t, ds.Groups, 1)
	assert.Equal(t, []string{"a", "b"}, ds.Groups[0])
	assert.Equal(t, 2, ds.Stats.Files)
	assert.Nil(t, ds.LangText)
}

func TestLoadMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("Page Name,Message\nx,y\n"), 0o644))
	_, err := Load(context.Background(), []string{path}, Options{})
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	_, err := Load(context.Background(), []string{"posts.xlsx"}, Options{})
	assert.Error(t, err)
	_, err = Load(context.Background(), nil, Options{})
	assert.Error(t, err)
}

func TestCustomExclusions(t *testing.T) {
	l := NewLoader(Options{Exclude: []string{"spam"}})
	require.NoError(t, l.Read(context.Background(), strings.NewReader(header+
		"A,a,1,US,1,d,1,u,,spam,,,,\n"+
		"B,b,2,US,1,d,1,u,,ham,,,,\n"+
		"C,c,3,US,1,d,1,u,,,,,,\n")))
	ds := l.Dataset()
	assert.Equal(t, [][]string{{"b"}}, ds.Groups)
	assert.Equal(t, 2, ds.Stats.ExcludedRows)
}

func TestEmptyContentAlwaysExcluded(t *testing.T) {
	l := NewLoader(Options{Exclude: []string{"This is a re-share of a post"}})
	require.NoError(t, l.Read(context.Background(), strings.NewReader(header+
		"A,a,1,US,1,d,1,u,,,,,,\n"+
		"B,b,2,US,1,d,1,u,,,,,,\n"+
		"C,c,3,US,1,d,1,u,,,,,,\n")))
	ds := l.Dataset()
	assert.Empty(t, ds.Groups)
	assert.Equal(t, 3, ds.Stats.ExcludedRows)
	assert.Len(t, ds.Pages, 3)
}

// Package synth generates CrowdTangle-style post exports with planted
// networks of pages that publish identical content.
package synth

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/hurttlocker/smcluster/internal/ingest"
)

// ErrInvalidOptions is returned for impossible generator settings.
var ErrInvalidOptions = errors.New("invalid synth options")

// Options shapes a synthetic dataset.
type Options struct {
	Pages       int     // total pages, network members included
	Networks    int     // planted coordinated networks
	NetworkSize int     // pages per network
	Posts       int     // unique posts per page
	SharedPosts int     // content items each network shares
	Overlap     float64 // chance a member publishes a shared item
	LinkShare   float64 // fraction of shared items posted as tracked links
	Seed        int64
}

// DefaultOptions returns a small dataset with three networks.
func DefaultOptions() Options {
	return Options{
		Pages:       200,
		Networks:    3,
		NetworkSize: 6,
		Posts:       20,
		SharedPosts: 30,
		Overlap:     0.8,
		LinkShare:   0.3,
		Seed:        1,
	}
}

func (o Options) validate() error {
	switch {
	case o.Pages < 1, o.Posts < 0, o.SharedPosts < 0, o.Networks < 0:
		return fmt.Errorf("%w: counts must be positive", ErrInvalidOptions)
	case o.Networks > 0 && o.NetworkSize < 2:
		return fmt.Errorf("%w: networks need at least two pages", ErrInvalidOptions)
	case o.Networks*o.NetworkSize > o.Pages:
		return fmt.Errorf("%w: %d networks of %d do not fit in %d pages", ErrInvalidOptions, o.Networks, o.NetworkSize, o.Pages)
	case o.Overlap <= 0 || o.Overlap > 1, o.LinkShare < 0 || o.LinkShare > 1:
		return fmt.Errorf("%w: overlap and link share must be fractions", ErrInvalidOptions)
	}
	return nil
}

// Post is one generated row.
type Post struct {
	PageName     string
	UserName     string
	FacebookID   string
	Country      string
	Followers    int
	Created      time.Time
	Interactions int
	Link         string
	Message      string
}

// Dataset is a generated export and the networks planted in it.
type Dataset struct {
	Posts []Post
	// Networks lists member user names, strongest page first.
	Networks [][]string
}

type page struct {
	name, user, id, country string
	followers               int
}

// Generate builds a dataset. The same Options always give the same output.
func Generate(opts Options) (*Dataset, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	f := gofakeit.New(opts.Seed)
	g := &generator{f: f, used: make(map[string]struct{})}

	pages := make([]page, opts.Pages)
	users := make(map[string]struct{}, opts.Pages)
	for i := range pages {
		user := f.Username()
		for {
			if _, dup := users[user]; !dup {
				break
			}
			user = fmt.Sprintf("%s%d", f.Username(), f.Number(10, 9999))
		}
		users[user] = struct{}{}
		pages[i] = page{
			name:      f.Company(),
			user:      user,
			id:        strconv.Itoa(100000000 + i),
			country:   f.CountryAbr(),
			followers: f.Number(100, 2_000_000),
		}
	}

	ds := &Dataset{}
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 6, 0)
	emit := func(p page, link, message string) {
		ds.Posts = append(ds.Posts, Post{
			PageName:     p.name,
			UserName:     p.user,
			FacebookID:   p.id,
			Country:      p.country,
			Followers:    p.followers,
			Created:      f.DateRange(start, end).UTC(),
			Interactions: f.Number(0, 5000),
			Link:         link,
			Message:      message,
		})
	}

	for _, p := range pages {
		for range opts.Posts {
			emit(p, "", g.sentence())
		}
	}

	for n := range opts.Networks {
		members := pages[n*opts.NetworkSize : (n+1)*opts.NetworkSize]
		names := make([]string, len(members))
		for i, m := range members {
			names[i] = m.user
		}
		ds.Networks = append(ds.Networks, names)

		for range opts.SharedPosts {
			link, message := "", g.sentence()
			if f.Float64Range(0, 1) < opts.LinkShare {
				link, message = g.trackedLink(), ""
			}
			for _, m := range members {
				if f.Float64Range(0, 1) < opts.Overlap {
					emit(m, link, message)
				}
			}
		}
	}
	return ds, nil
}

type generator struct {
	f    *gofakeit.Faker
	used map[string]struct{}
}

// sentence returns text no other post has used.
func (g *generator) sentence() string {
	for {
		s := g.f.Sentence(14)
		if _, dup := g.used[s]; !dup {
			g.used[s] = struct{}{}
			return s
		}
	}
}

// trackedLink returns a unique URL carrying tracking parameters that
// normalization strips.
func (g *generator) trackedLink() string {
	for {
		u := fmt.Sprintf("https://%s.example.com/%s?id=%d&utm_source=facebook&fbclid=%s",
			g.f.Word(), g.f.Word(), g.f.Number(1, 1_000_000), g.f.LetterN(12))
		if _, dup := g.used[u]; !dup {
			g.used[u] = struct{}{}
			return u
		}
	}
}

// Columns is the header written by WriteCSV.
var Columns = append(append([]string(nil), ingest.RequiredColumns...), ingest.ColPostCreated, ingest.ColURL)

// WriteCSV writes the posts with a CrowdTangle header.
func (d *Dataset) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, p := range d.Posts {
		vals := map[string]string{
			ingest.ColPageName:     p.PageName,
			ingest.ColUserName:     p.UserName,
			ingest.ColFacebookID:   p.FacebookID,
			ingest.ColCountry:      p.Country,
			ingest.ColFollowers:    strconv.Itoa(p.Followers),
			ingest.ColInteractions: strconv.Itoa(p.Interactions),
			ingest.ColLink:         p.Link,
			ingest.ColMessage:      p.Message,
			ingest.ColFinalLink:    "",
			ingest.ColImageText:    "",
			ingest.ColLinkText:     "",
			ingest.ColDescription:  "",
			ingest.ColPostCreated:  p.Created.Format("2006-01-02 15:04:05 MST"),
			ingest.ColURL:          "https://www.facebook.com/" + p.UserName + "/posts/" + strconv.FormatInt(p.Created.Unix(), 10),
		}
		rec := make([]string, len(Columns))
		for i, c := range Columns {
			rec[i] = vals[c]
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

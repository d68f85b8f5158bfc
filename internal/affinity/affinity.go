// Package affinity scores how strongly two pages co-occur.
//
// All scores are pure functions of a read-only co-occurrence graph and the
// total number of content items n. With c = cooccur(x,y), mx = mass(x),
// my = mass(y):
//
//	coverage(x,y)    = c / my
//	pmi(x,y)         = log2(c*n / (mx*my))
//	npmi(x,y)        = log2(mx*my/n^2) / log2(c/n) - 1
//	damped_npmi(x,y) = npmi(x,y) * (1 - exp(-min(mx,my)/d))
//
// Without overlap, npmi is -1 and damped_npmi is -(1 - exp(-min(mx,my)/d)).
//
// When c == n the NPMI denominator is log2(1) = 0. That only happens when
// both pages appear in every content item, which is perfect association, so
// the NPMI core is clamped to 1.0 (the value every page has with itself).
package affinity

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/hurttlocker/smcluster/internal/graph"
)

// DefaultDampeningFactor controls how fast damped NPMI trusts low-mass pages.
const DefaultDampeningFactor = 4.0

// ErrDegenerateOverlap marks a pair whose co-occurrence equals the content
// item count. Check returns it for callers that prefer to fail fast.
var ErrDegenerateOverlap = errors.New("co-occurrence equals content item count")

// PMI is a pointwise mutual information result. Signal is false when the
// two pages never co-occur, in which case Value is meaningless.
type PMI struct {
	Value  float64
	Signal bool
}

// Or returns the PMI value, or fallback when there is no signal.
func (p PMI) Or(fallback float64) float64 {
	if !p.Signal {
		return fallback
	}
	return p.Value
}

// MarshalJSON encodes a no-signal PMI as null.
func (p PMI) MarshalJSON() ([]byte, error) {
	if !p.Signal {
		return []byte("null"), nil
	}
	return json.Marshal(p.Value)
}

// UnmarshalJSON accepts a number or null.
func (p *PMI) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = PMI{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = PMI{Value: v, Signal: true}
	return nil
}

// Options configures a Scorer.
type Options struct {
	DampeningFactor float64
	// ContentItems overrides the graph's content item count when positive.
	ContentItems int
}

// Scorer computes affinity scores over one graph.
type Scorer struct {
	g         *graph.Graph
	n         float64
	dampening float64
}

// New returns a Scorer over g.
func New(g *graph.Graph, opts Options) (*Scorer, error) {
	d := opts.DampeningFactor
	if d == 0 {
		d = DefaultDampeningFactor
	}
	if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return nil, fmt.Errorf("dampening factor must be positive, got %v", opts.DampeningFactor)
	}
	n := opts.ContentItems
	if n <= 0 {
		n = g.ContentItems()
	}
	return &Scorer{g: g, n: float64(n), dampening: d}, nil
}

// Graph returns the graph the scorer reads.
func (s *Scorer) Graph() *graph.Graph { return s.g }

// Coverage is the fraction of y's content items that x also published.
func (s *Scorer) Coverage(x, y string) float64 {
	my := s.g.Mass(y)
	if my == 0 {
		return 0
	}
	return float64(s.g.Cooccur(y, x)) / float64(my)
}

// PMI returns the pointwise mutual information of x and y.
func (s *Scorer) PMI(x, y string) PMI {
	c := s.g.Cooccur(y, x)
	if c == 0 {
		return PMI{}
	}
	mx, my := float64(s.g.Mass(x)), float64(s.g.Mass(y))
	return PMI{Value: math.Log2(float64(c) * s.n / (mx * my)), Signal: true}
}

// NPMI returns normalized PMI in [-1, 1]; -1 when x and y never co-occur.
func (s *Scorer) NPMI(x, y string) float64 {
	c := s.g.Cooccur(y, x)
	if c == 0 {
		return -1.0
	}
	return s.npmiCore(c, s.g.Mass(x), s.g.Mass(y))
}

// DampedNPMI is NPMI scaled toward zero for pages with little content.
// With no overlap it is -exp(-min(mx,my)/d) rather than a flat -1.
func (s *Scorer) DampedNPMI(x, y string) float64 {
	c := s.g.Cooccur(y, x)
	mx, my := s.g.Mass(x), s.g.Mass(y)
	if c == 0 {
		return -math.Exp(-float64(min(mx, my)) / s.dampening)
	}
	return s.npmiCore(c, mx, my) * s.dampener(mx, my)
}

// dampener is the confidence factor 1 - exp(-min(mx,my)/d).
func (s *Scorer) dampener(mx, my int) float64 {
	return 1.0 - math.Exp(-float64(min(mx, my))/s.dampening)
}

// Degenerate reports whether the NPMI of x and y hits the zero denominator.
func (s *Scorer) Degenerate(x, y string) bool {
	c := s.g.Cooccur(y, x)
	return c > 0 && float64(c) == s.n
}

// Check returns ErrDegenerateOverlap when the pair is degenerate.
func (s *Scorer) Check(x, y string) error {
	if s.Degenerate(x, y) {
		return fmt.Errorf("%s/%s: %w", x, y, ErrDegenerateOverlap)
	}
	return nil
}

func (s *Scorer) npmiCore(c, mx, my int) float64 {
	if float64(c) == s.n {
		return 1.0
	}
	return math.Log2(float64(mx)*float64(my)/s.n/s.n)/math.Log2(float64(c)/s.n) - 1.0
}

// Pair bundles every score of x relative to y.
type Pair struct {
	Coverage   float64 `json:"coverage"`
	PMI        PMI     `json:"pmi"`
	NPMI       float64 `json:"npmi"`
	DampedNPMI float64 `json:"dnpmi"`
	Cooccur    int     `json:"cooccur"`
}

// Combined is coverage times damped NPMI, the score the clusterer ranks by.
func (p Pair) Combined() float64 { return p.DampedNPMI * p.Coverage }

// Pair scores x (typically a cluster seed) against y.
func (s *Scorer) Pair(x, y string) Pair {
	return Pair{
		Coverage:   s.Coverage(x, y),
		PMI:        s.PMI(x, y),
		NPMI:       s.NPMI(x, y),
		DampedNPMI: s.DampedNPMI(x, y),
		Cooccur:    s.g.Cooccur(y, x),
	}
}

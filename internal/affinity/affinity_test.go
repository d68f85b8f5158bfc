package affinity

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurttlocker/smcluster/internal/graph"
)

func newGraph(t *testing.T, groups ...[]string) *graph.Graph {
	t.Helper()
	b := graph.NewBuilder(graph.BuilderOptions{})
	for _, grp := range groups {
		require.NoError(t, b.Add(grp))
	}
	return b.Build()
}

func repeat(n int, grp ...string) [][]string {
	out := make([][]string, n)
	for i := range out {
		out[i] = grp
	}
	return out
}

func newScorer(t *testing.T, g *graph.Graph) *Scorer {
	t.Helper()
	s, err := New(g, Options{})
	require.NoError(t, err)
	return s
}

func TestScoresMatchFormulas(t *testing.T) {
	// a: 4 items, b: 3 items, 2 shared, 10 items total.
	groups := append(repeat(2, "a", "b"), repeat(2, "a")...)
	groups = append(groups, []string{"b"})
	groups = append(groups, repeat(5, "z")...)
	s := newScorer(t, newGraph(t, groups...))

	const n, c, ma, mb = 10.0, 2.0, 4.0, 3.0
	assert.InDelta(t, c/mb, s.Coverage("a", "b"), 1e-12)
	assert.InDelta(t, c/ma, s.Coverage("b", "a"), 1e-12)

	pmi := s.PMI("a", "b")
	require.True(t, pmi.Signal)
	assert.InDelta(t, math.Log2(c*n/(ma*mb)), pmi.Value, 1e-12)

	npmi := math.Log2(ma*mb/n/n)/math.Log2(c/n) - 1
	assert.InDelta(t, npmi, s.NPMI("a", "b"), 1e-12)
	assert.InDelta(t, npmi*(1-math.Exp(-mb/4.0)), s.DampedNPMI("a", "b"), 1e-12)

	p := s.Pair("a", "b")
	assert.InDelta(t, s.DampedNPMI("a", "b")*s.Coverage("a", "b"), p.Combined(), 1e-12)
	assert.Equal(t, 2, p.Cooccur)
}

func TestCoverageRange(t *testing.T) {
	g := newGraph(t, []string{"a", "b", "c"}, []string{"a", "b"}, []string{"c"}, []string{"b"})
	s := newScorer(t, g)
	for _, x := range g.Nodes() {
		for _, y := range g.Nodes() {
			cov := s.Coverage(x, y)
			assert.GreaterOrEqual(t, cov, 0.0)
			assert.LessOrEqual(t, cov, 1.0)
		}
	}
	assert.Equal(t, 0.0, s.Coverage("a", "missing"))
}

func TestPMINoSignalIffNoOverlap(t *testing.T) {
	g := newGraph(t, []string{"a", "b"}, []string{"c"}, []string{"a"})
	s := newScorer(t, g)
	for _, x := range g.Nodes() {
		for _, y := range g.Nodes() {
			p := s.PMI(x, y)
			assert.Equal(t, g.Cooccur(x, y) > 0, p.Signal, "%s,%s", x, y)
		}
	}
	assert.True(t, math.IsInf(s.PMI("a", "c").Or(math.Inf(-1)), -1))
	assert.Equal(t, -1.0, s.NPMI("a", "c"))
}

func TestPMIJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		A PMI `json:"a"`
		B PMI `json:"b"`
	}{A: PMI{}, B: PMI{Value: 1.5, Signal: true}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":null,"b":1.5}`, string(b))

	var back PMI
	require.NoError(t, json.Unmarshal([]byte("2.25"), &back))
	assert.Equal(t, PMI{Value: 2.25, Signal: true}, back)
	require.NoError(t, json.Unmarshal([]byte("null"), &back))
	assert.False(t, back.Signal)
}

func TestDampedNPMINoOverlap(t *testing.T) {
	// x and y never co-occur; the penalty shrinks toward 0 as mass grows.
	var prev float64
	for i, m := range []int{1, 2, 4, 8, 16, 64} {
		groups := append(repeat(m, "x"), repeat(m, "y")...)
		s := newScorer(t, newGraph(t, groups...))
		got := s.DampedNPMI("x", "y")
		assert.InDelta(t, -math.Exp(-float64(m)/4.0), got, 1e-12)
		assert.Greater(t, got, -1.0)
		assert.Less(t, got, 0.0)
		if i > 0 {
			assert.Greater(t, got, prev)
		}
		prev = got
	}
	assert.InDelta(t, 0.0, prev, 1e-6)
}

func TestDampedNPMISmallMass(t *testing.T) {
	// One item each: -exp(-1/4).
	s := newScorer(t, newGraph(t, []string{"x"}, []string{"y"}, []string{"q", "r"}))
	got := s.DampedNPMI("x", "y")
	assert.InDelta(t, -0.778801, got, 1e-6)

	// Mass is the smaller of the two.
	s = newScorer(t, newGraph(t, append(repeat(8, "x"), []string{"y"})...))
	assert.InDelta(t, -math.Exp(-0.25), s.DampedNPMI("x", "y"), 1e-12)

	// A larger dampening factor keeps it closer to -1.
	loose, err := New(s.Graph(), Options{DampeningFactor: 100})
	require.NoError(t, err)
	assert.Less(t, loose.DampedNPMI("x", "y"), got)
	assert.Less(t, loose.DampedNPMI("x", "y"), -0.99)
}

func TestDegenerateOverlapClamped(t *testing.T) {
	// a and b appear together in every item: c == n.
	s := newScorer(t, newGraph(t, repeat(5, "a", "b")...))

	assert.True(t, s.Degenerate("a", "b"))
	assert.ErrorIs(t, s.Check("a", "b"), ErrDegenerateOverlap)

	npmi := s.NPMI("a", "b")
	assert.False(t, math.IsNaN(npmi))
	assert.Equal(t, 1.0, npmi)

	d := s.DampedNPMI("a", "b")
	assert.False(t, math.IsNaN(d) || math.IsInf(d, 0))
	assert.InDelta(t, 1-math.Exp(-5.0/4.0), d, 1e-12)
}

func TestSelfNPMIIsOne(t *testing.T) {
	s := newScorer(t, newGraph(t, []string{"a", "b"}, []string{"a"}, []string{"c"}))
	assert.InDelta(t, 1.0, s.NPMI("a", "a"), 1e-12)
	assert.NoError(t, s.Check("a", "b"))
}

func TestNewRejectsBadDampening(t *testing.T) {
	g := newGraph(t, []string{"a"})
	_, err := New(g, Options{DampeningFactor: -1})
	assert.Error(t, err)
	_, err = New(g, Options{DampeningFactor: math.Inf(1)})
	assert.Error(t, err)
}

package flow

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/graphism/natloop/cfg"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/graph"
	gonumflow "gonum.org/v1/gonum/graph/flow"
	"gonum.org/v1/gonum/graph/simple"
)

// analysis is the result of running every stage on a graph.
type analysis struct {
	f     *Func
	dom   *DomSets
	edges []BackEdge
	loops []*Loop
}

func analyze(t *testing.T, g Graph) *analysis {
	t.Helper()
	f, err := NewFunc(g)
	require.NoError(t, err)
	dom := Dominators(f)
	edges := BackEdges(dom)
	loops, err := NaturalLoops(f, edges)
	require.NoError(t, err)
	return &analysis{f: f, dom: dom, edges: edges, loops: loops}
}

func parse(t *testing.T, s string) *cfg.Graph {
	t.Helper()
	g, err := cfg.ParseString(s)
	require.NoError(t, err)
	return g
}

func doms(t *testing.T, d *DomSets, name string) []string {
	t.Helper()
	ds, ok := d.Dominators(name)
	require.True(t, ok, "block %q", name)
	return ds
}

func TestLinearChain(t *testing.T) {
	a := analyze(t, parse(t, `digraph {
	A [label=entry];
	A -> B;
	B -> C;
}`))
	assert.Equal(t, []string{"A"}, doms(t, a.dom, "A"))
	assert.Equal(t, []string{"A", "B"}, doms(t, a.dom, "B"))
	assert.Equal(t, []string{"A", "B", "C"}, doms(t, a.dom, "C"))
	assert.Empty(t, a.edges)
	assert.Empty(t, a.loops)
}

func TestSimpleLoop(t *testing.T) {
	a := analyze(t, parse(t, `digraph {
	A [label=entry];
	A -> B;
	B -> C;
	C -> B;
	C -> D;
}`))
	assert.Equal(t, []string{"A", "B"}, doms(t, a.dom, "B"))
	assert.Equal(t, []string{"A", "B", "C"}, doms(t, a.dom, "C"))
	assert.Equal(t, []string{"A", "B", "C", "D"}, doms(t, a.dom, "D"))
	assert.Equal(t, []BackEdge{{Tail: "C", Head: "B"}}, a.edges)
	require.Len(t, a.loops, 1)
	assert.Equal(t, BackEdge{Tail: "C", Head: "B"}, a.loops[0].BackEdge)
	assert.Equal(t, []string{"B", "C"}, a.loops[0].Blocks)
}

func TestEntrySelfLoop(t *testing.T) {
	a := analyze(t, parse(t, `digraph {
	A [label=entry];
	A -> A;
	A -> B;
}`))
	assert.Equal(t, []string{"A"}, doms(t, a.dom, "A"))
	assert.Equal(t, []string{"A", "B"}, doms(t, a.dom, "B"))
	assert.Equal(t, []BackEdge{{Tail: "A", Head: "A"}}, a.edges)
	require.Len(t, a.loops, 1)
	assert.Equal(t, []string{"A"}, a.loops[0].Blocks)
}

func TestSelfLoop(t *testing.T) {
	a := analyze(t, parse(t, `digraph {
	A [label=entry];
	A -> B;
	B -> B;
	B -> C;
}`))
	assert.Equal(t, []BackEdge{{Tail: "B", Head: "B"}}, a.edges)
	require.Len(t, a.loops, 1)
	assert.Equal(t, []string{"B"}, a.loops[0].Blocks)
}

func TestDiamond(t *testing.T) {
	a := analyze(t, parse(t, `digraph {
	A [label=entry];
	A -> B;
	A -> C;
	B -> D;
	C -> D;
}`))
	assert.Equal(t, []string{"A", "B"}, doms(t, a.dom, "B"))
	assert.Equal(t, []string{"A", "C"}, doms(t, a.dom, "C"))
	assert.Equal(t, []string{"A", "D"}, doms(t, a.dom, "D"))
	assert.Empty(t, a.edges)
}

func TestUnreachableBlock(t *testing.T) {
	a := analyze(t, parse(t, `digraph {
	A [label=entry];
	X;
	A -> B;
	B -> A;
}`))
	assert.Equal(t, []string{"A", "X", "B"}, doms(t, a.dom, "X"))
	assert.False(t, a.dom.Reachable("X"))
	assert.True(t, a.dom.Reachable("B"))
	assert.Equal(t, []BackEdge{{Tail: "B", Head: "A"}}, a.edges)
	for _, l := range a.loops {
		assert.False(t, l.Has("X"), "loop %v", l.BackEdge)
	}
}

func TestUnreachableBlockIntoLoop(t *testing.T) {
	// X is not reachable from the entry block, yet has edges into and out of
	// the loop; it is neither a back edge tail nor a loop member.
	a := analyze(t, parse(t, `digraph {
	A [label=entry];
	A -> B;
	B -> C;
	C -> B;
	X -> C;
	X -> B;
	Y -> X;
	X -> Y;
}`))
	assert.Equal(t, []BackEdge{{Tail: "C", Head: "B"}}, a.edges)
	require.Len(t, a.loops, 1)
	assert.Equal(t, []string{"B", "C"}, a.loops[0].Blocks)
	assert.Equal(t, []string{"A", "B", "C", "X", "Y"}, doms(t, a.dom, "Y"))
}

func TestEdgeIntoEntry(t *testing.T) {
	// Edges into the entry block are ignored for dominance, yet form back
	// edges.
	a := analyze(t, parse(t, `digraph {
	A [label=entry];
	A -> B;
	B -> C;
	C -> A;
}`))
	assert.Equal(t, []string{"A"}, doms(t, a.dom, "A"))
	assert.Equal(t, []BackEdge{{Tail: "C", Head: "A"}}, a.edges)
	require.Len(t, a.loops, 1)
	assert.Equal(t, []string{"A", "B", "C"}, a.loops[0].Blocks)
}

func TestNestedLoops(t *testing.T) {
	a := analyze(t, parse(t, `digraph {
	entry [label=entry];
	outer;
	inner;
	body;
	latch;
	exit;
	entry -> outer;
	outer -> inner;
	inner -> body;
	body -> inner;
	body -> latch;
	latch -> outer;
	outer -> exit;
}`))
	assert.Equal(t, []BackEdge{
		{Tail: "body", Head: "inner"},
		{Tail: "latch", Head: "outer"},
	}, a.edges)
	require.Len(t, a.loops, 2)
	assert.Equal(t, []string{"inner", "body"}, a.loops[0].Blocks)
	assert.Equal(t, []string{"outer", "inner", "body", "latch"}, a.loops[1].Blocks)
}

func TestSharedHeader(t *testing.T) {
	// Two back edges to the same header induce overlapping loops.
	a := analyze(t, parse(t, `digraph {
	A [label=entry];
	A -> H;
	H -> B;
	H -> C;
	B -> H;
	C -> H;
	C -> D;
}`))
	assert.Equal(t, []BackEdge{
		{Tail: "B", Head: "H"},
		{Tail: "C", Head: "H"},
	}, a.edges)
	require.Len(t, a.loops, 2)
	assert.Equal(t, []string{"H", "B"}, a.loops[0].Blocks)
	assert.Equal(t, []string{"H", "C"}, a.loops[1].Blocks)
}

func TestSingleBlock(t *testing.T) {
	a := analyze(t, parse(t, `digraph { A [label=entry]; }`))
	assert.Equal(t, []string{"A"}, doms(t, a.dom, "A"))
	assert.Empty(t, a.edges)
	assert.Equal(t, 1, a.dom.Passes())
}

func TestIrreducible(t *testing.T) {
	// B and C form a cycle with two entries; neither dominates the other, so
	// there is no back edge.
	a := analyze(t, parse(t, `digraph {
	A [label=entry];
	A -> B;
	A -> C;
	B -> C;
	C -> B;
}`))
	assert.Equal(t, []string{"A", "B"}, doms(t, a.dom, "B"))
	assert.Equal(t, []string{"A", "C"}, doms(t, a.dom, "C"))
	assert.Empty(t, a.edges)
}

func TestFullPass(t *testing.T) {
	// The first block in block order is stable after the first pass, while
	// later blocks still change; convergence requires a full pass without
	// change.
	a := analyze(t, parse(t, `digraph {
	A [label=entry];
	B;
	C;
	D;
	A -> C;
	C -> D;
	D -> B;
	B -> D;
}`))
	assert.Equal(t, []string{"A", "B", "C", "D"}, doms(t, a.dom, "B"))
	assert.Equal(t, []string{"A", "C"}, doms(t, a.dom, "C"))
	assert.Equal(t, []string{"A", "C", "D"}, doms(t, a.dom, "D"))
	assert.Equal(t, []BackEdge{{Tail: "B", Head: "D"}}, a.edges)
	assert.True(t, a.dom.Passes() >= 2)
}

func TestNaturalLoopUnknownBlock(t *testing.T) {
	f, err := NewFunc(parse(t, `digraph { A [label=entry]; A -> A; }`))
	require.NoError(t, err)
	_, err = NaturalLoop(f, BackEdge{Tail: "A", Head: "Z"})
	assert.Error(t, err)
	_, err = NaturalLoop(f, BackEdge{Tail: "Z", Head: "A"})
	assert.Error(t, err)
}

func TestMissingEntry(t *testing.T) {
	_, err := NewFunc(parse(t, `digraph { A -> B; }`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidGraph))
	assert.Equal(t, ErrInvalidGraph, errors.Cause(err))
}

// --- graphs built on gonum's simple package

// namedNode is a graph node with an optional name.
type namedNode struct {
	id   int64
	name string
}

func (n *namedNode) ID() int64         { return n.id }
func (n *namedNode) DOTID() string     { return n.name }
func (n *namedNode) SetDOTID(s string) { n.name = s }

// plainNode is a graph node without a name.
type plainNode int64

func (n plainNode) ID() int64 { return int64(n) }

// entryGraph equips a gonum graph with an entry node.
type entryGraph struct {
	*simple.DirectedGraph
	entry graph.Node
}

func (g entryGraph) Entry() graph.Node {
	return g.entry
}

func TestDuplicateNames(t *testing.T) {
	g := simple.NewDirectedGraph()
	a := &namedNode{id: 0, name: "A"}
	b := &namedNode{id: 1, name: "A"}
	g.SetEdge(g.NewEdge(a, b))
	_, err := NewFunc(entryGraph{DirectedGraph: g, entry: a})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidGraph))
}

func TestEntryNotInGraph(t *testing.T) {
	g := simple.NewDirectedGraph()
	a := &namedNode{id: 0, name: "A"}
	g.AddNode(a)
	_, err := NewFunc(entryGraph{DirectedGraph: g, entry: &namedNode{id: 7, name: "Z"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidGraph))
}

func TestBlockNaming(t *testing.T) {
	g := simple.NewDirectedGraph()
	a := &namedNode{id: 0}
	b := plainNode(1)
	c := &namedNode{id: 2, name: "exit"}
	g.SetEdge(g.NewEdge(a, b))
	g.SetEdge(g.NewEdge(b, c))
	f, err := NewFunc(entryGraph{DirectedGraph: g, entry: a})
	require.NoError(t, err)
	assert.Equal(t, []string{"BB0", "BB1", "exit"}, f.Names())
	// The name is visible to the provider.
	assert.Equal(t, "BB0", a.name)

	// Assigned names must not collide with existing names.
	g = simple.NewDirectedGraph()
	a = &namedNode{id: 0}
	c = &namedNode{id: 1, name: "BB0"}
	g.SetEdge(g.NewEdge(a, c))
	_, err = NewFunc(entryGraph{DirectedGraph: g, entry: a})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidGraph))
}

func TestCFGBlockNaming(t *testing.T) {
	g := cfg.NewGraph()
	a := g.NewNode()
	g.AddNode(a)
	b, err := g.AddBlock("body")
	require.NoError(t, err)
	g.SetEntry(a.(*cfg.Node))
	g.SetEdge(g.NewEdge(a, b))
	g.SetEdge(g.NewEdge(b, b))
	an := analyze(t, g)
	assert.Equal(t, []string{"BB0", "body"}, an.f.Names())
	n, ok := g.NodeWithName("BB0")
	require.True(t, ok)
	assert.Equal(t, a, n)
	assert.Equal(t, []BackEdge{{Tail: "body", Head: "body"}}, an.edges)
}

func TestBlockNamingRejected(t *testing.T) {
	// The generated name of the third block collides with the explicit name
	// of the second block; no block of the rejected graph is renamed.
	g := cfg.NewGraph()
	a := g.NewNode()
	g.AddNode(a)
	b, err := g.AddBlock("BB2")
	require.NoError(t, err)
	c := g.NewNode()
	g.AddNode(c)
	g.SetEntry(a.(*cfg.Node))
	g.SetEdge(g.NewEdge(a, b))
	g.SetEdge(g.NewEdge(b, c))
	_, err = NewFunc(g)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidGraph))
	assert.Empty(t, a.(*cfg.Node).Name())
	assert.Empty(t, c.(*cfg.Node).Name())
	_, ok := g.NodeWithName("BB0")
	assert.False(t, ok)
}

// --- properties

var fixtures = []string{
	"testdata/loops.dot",
	"testdata/nested.dot",
	"testdata/unreachable.dot",
}

func TestProperties(t *testing.T) {
	for _, path := range fixtures {
		g, err := cfg.ParseFile(path)
		if err != nil {
			t.Errorf("%q; unable to parse file; %v", path, err)
			continue
		}
		t.Run(path, func(t *testing.T) {
			checkProperties(t, analyze(t, g))
		})
	}
	rnd := rand.New(rand.NewSource(255))
	for i := 0; i < 200; i++ {
		g := randomGraph(rnd, 1+rnd.Intn(12))
		t.Run(fmt.Sprintf("random%d", i), func(t *testing.T) {
			checkProperties(t, analyze(t, g))
		})
	}
}

func TestIdempotence(t *testing.T) {
	for _, path := range fixtures {
		g, err := cfg.ParseFile(path)
		require.NoError(t, err)
		first, second := analyze(t, g), analyze(t, g)
		for _, name := range first.f.Names() {
			assert.Equal(t, doms(t, first.dom, name), doms(t, second.dom, name), "%s: %s", path, name)
		}
		assert.Equal(t, first.edges, second.edges, path)
		assert.Equal(t, first.loops, second.loops, path)
	}
}

// checkProperties checks the invariants of the analysis results against
// brute-force computations over the graph.
func checkProperties(t *testing.T, a *analysis) {
	f := a.f
	n := f.Len()
	entry := f.Name(f.Entry())
	assert.Equal(t, []string{entry}, doms(t, a.dom, entry), "entry minimality")
	for b := 0; b < n; b++ {
		name := f.Name(b)
		ds := doms(t, a.dom, name)
		assert.Contains(t, ds, name, "reflexivity")
		if !f.Reachable(b) {
			assert.Equal(t, f.Names(), ds, "unreachable block %q", name)
			continue
		}
		// d dominates b iff b is unreachable from the entry once d is removed.
		for d := 0; d < n; d++ {
			want := d == b || !reaches(f, f.Entry(), b, d)
			assert.Equal(t, want, a.dom.dominates(d, b), "dom(%s) has %s", name, f.Name(d))
		}
		// Fixed point.
		if b != f.Entry() && len(f.Preds(b)) > 0 {
			want := map[string]bool{name: true}
			first := true
			for _, p := range f.Preds(b) {
				pds := map[string]bool{}
				for _, s := range doms(t, a.dom, f.Name(p)) {
					pds[s] = true
				}
				if first {
					for s := range pds {
						want[s] = true
					}
					first = false
					continue
				}
				for s := range want {
					if s != name && !pds[s] {
						delete(want, s)
					}
				}
			}
			assert.Len(t, ds, len(want), "fixed point of %q", name)
			for _, s := range ds {
				assert.True(t, want[s], "fixed point of %q has %q", name, s)
			}
		}
	}
	// Back-edge soundness and completeness.
	var want []BackEdge
	for tail := 0; tail < n; tail++ {
		if !f.Reachable(tail) {
			continue
		}
		for _, head := range f.Succs(tail) {
			if a.dom.Dominates(f.Name(head), f.Name(tail)) {
				want = append(want, BackEdge{Tail: f.Name(tail), Head: f.Name(head)})
			}
		}
	}
	assert.Equal(t, want, a.edges, "back edges")
	// Natural-loop membership.
	require.Len(t, a.loops, len(a.edges))
	for i, l := range a.loops {
		assert.Equal(t, a.edges[i], l.BackEdge)
		assert.True(t, l.Has(l.Head), "loop %v has head", l.BackEdge)
		assert.True(t, l.Has(l.Tail), "loop %v has tail", l.BackEdge)
		head, _ := f.Index(l.Head)
		tail, _ := f.Index(l.Tail)
		for b := 0; b < n; b++ {
			want := b == head || b == tail || (f.Reachable(b) && b != head && reaches(f, b, tail, head))
			assert.Equal(t, want, l.Has(f.Name(b)), "loop %v has %s", l.BackEdge, f.Name(b))
		}
	}
}

// reaches reports whether there is a path from block from to block to which
// does not pass through block without. A path from a block to itself is empty.
func reaches(f *Func, from, to, without int) bool {
	if from == without {
		return false
	}
	seen := map[int]bool{from: true}
	queue := []int{from}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		if b == to {
			return true
		}
		for _, s := range f.Succs(b) {
			if s == without || seen[s] {
				continue
			}
			seen[s] = true
			queue = append(queue, s)
		}
	}
	return false
}

// randomGraph returns a control flow graph of n blocks with random edges,
// including self edges and edges into the entry block.
func randomGraph(rnd *rand.Rand, n int) *cfg.Graph {
	g := cfg.NewGraph()
	var blocks []*cfg.Node
	for i := 0; i < n; i++ {
		b, err := g.AddBlock(fmt.Sprintf("N%d", i))
		if err != nil {
			panic(err)
		}
		blocks = append(blocks, b)
	}
	g.SetEntry(blocks[0])
	for _, from := range blocks {
		for _, to := range blocks {
			if rnd.Intn(n) < 2 {
				g.SetEdge(g.NewEdge(from, to))
			}
		}
	}
	return g
}

// --- gonum

func TestGonumDominators(t *testing.T) {
	rnd := rand.New(rand.NewSource(1976))
	for i := 0; i < 100; i++ {
		g := randomGraph(rnd, 2+rnd.Intn(20))
		a := analyze(t, g)
		tree := gonumflow.Dominators(g.Entry(), g)
		for b := 0; b < a.f.Len(); b++ {
			if !a.f.Reachable(b) {
				continue
			}
			// Walk the immediate dominators up to the root.
			want := map[string]bool{}
			for n := a.f.Node(b); n != nil; n = tree.DominatorOf(n.ID()) {
				want[n.(*cfg.Node).Name()] = true
			}
			got := doms(t, a.dom, a.f.Name(b))
			assert.Len(t, got, len(want), "graph %d, block %s", i, a.f.Name(b))
			for _, name := range got {
				assert.True(t, want[name], "graph %d, block %s, dominator %s", i, a.f.Name(b), name)
			}
		}
	}
}

package flow

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/tools/container/intsets"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/traverse"
)

// ErrInvalidGraph is returned, wrapped, for control flow graphs which are
// structurally unfit for analysis.
var ErrInvalidGraph = errors.New("invalid control flow graph")

// A Graph represents a control flow graph; a directed graph with a designated
// entry node.
type Graph interface {
	graph.Directed
	// Entry returns the entry node of the control flow graph.
	Entry() graph.Node
}

// A Func is an index-addressed view of a control flow graph. Basic blocks are
// numbered 0 through Len()-1 in block order, which is the order of node IDs.
//
// A Func is immutable once created.
type Func struct {
	// nodes holds the graph node of each block.
	nodes []graph.Node
	// names holds the name of each block.
	names []string
	// index maps from block name to block index.
	index map[string]int
	// ids maps from node ID to block index.
	ids map[int64]int
	// Predecessors and successors of each block, in block order.
	preds, succs [][]int
	// Index of the entry block.
	entry int
	// reachable records the blocks reachable from the entry block.
	reachable intsets.Sparse
}

// NewFunc returns the index-addressed view of the given control flow graph.
//
// Blocks are named by their DOT ID. A block without a name is named "BB<i>",
// where i is its block index; the name is written back to the node if it
// implements dot.DOTIDSetter. NewFunc reports an error wrapping
// ErrInvalidGraph if the entry node is missing or block names are not unique.
func NewFunc(g Graph) (*Func, error) {
	entry := g.Entry()
	if entry == nil {
		return nil, errors.Wrap(ErrInvalidGraph, "missing entry block")
	}
	if g.Node(entry.ID()) == nil {
		return nil, errors.Wrapf(ErrInvalidGraph, "entry block %v not present in graph", entry)
	}
	nodes := graph.NodesOf(g.Nodes())
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
	f := &Func{
		nodes: nodes,
		names: make([]string, len(nodes)),
		index: make(map[string]int, len(nodes)),
		ids:   make(map[int64]int, len(nodes)),
		preds: make([][]int, len(nodes)),
		succs: make([][]int, len(nodes)),
	}
	for i, n := range nodes {
		f.ids[n.ID()] = i
	}
	var unnamed []int
	for i, n := range nodes {
		name := blockName(n)
		if len(name) == 0 {
			unnamed = append(unnamed, i)
			continue
		}
		if _, ok := f.index[name]; ok {
			return nil, errors.Wrapf(ErrInvalidGraph, "duplicate block name %q", name)
		}
		f.names[i] = name
		f.index[name] = i
	}
	for _, i := range unnamed {
		name := fmt.Sprintf("BB%d", i)
		if _, ok := f.index[name]; ok {
			return nil, errors.Wrapf(ErrInvalidGraph, "duplicate block name %q", name)
		}
		f.names[i] = name
		f.index[name] = i
	}
	// Names are written back only once every generated name is known to be
	// unique; a rejected graph is left as is.
	for _, i := range unnamed {
		if s, ok := nodes[i].(dot.DOTIDSetter); ok {
			s.SetDOTID(f.names[i])
		}
	}
	for i, n := range nodes {
		f.succs[i] = f.indices(g.From(n.ID()))
		f.preds[i] = f.indices(g.To(n.ID()))
	}
	f.entry = f.ids[entry.ID()]
	// Record blocks reachable from the entry block.
	df := &traverse.DepthFirst{
		Visit: func(n graph.Node) {
			f.reachable.Insert(f.ids[n.ID()])
		},
	}
	df.Walk(g, entry, nil)
	return f, nil
}

// blockName returns the name of the given node, or the empty string if the node
// has no name.
func blockName(n graph.Node) string {
	if nn, ok := n.(dot.Node); ok {
		return nn.DOTID()
	}
	return ""
}

// indices returns the block indices of the given nodes, in block order.
func (f *Func) indices(it graph.Nodes) []int {
	var is []int
	for it.Next() {
		is = append(is, f.ids[it.Node().ID()])
	}
	sort.Ints(is)
	return is
}

// Len returns the number of blocks of the function.
func (f *Func) Len() int {
	return len(f.nodes)
}

// Entry returns the index of the entry block.
func (f *Func) Entry() int {
	return f.entry
}

// Name returns the name of the block with the given index.
func (f *Func) Name(i int) string {
	return f.names[i]
}

// Names returns the names of all blocks, in block order.
func (f *Func) Names() []string {
	names := make([]string, len(f.names))
	copy(names, f.names)
	return names
}

// Index returns the index of the block with the given name, and a boolean
// variable indicating success.
func (f *Func) Index(name string) (int, bool) {
	i, ok := f.index[name]
	return i, ok
}

// Node returns the graph node of the block with the given index.
func (f *Func) Node(i int) graph.Node {
	return f.nodes[i]
}

// Preds returns the predecessors of the block with the given index. The
// returned slice must not be modified.
func (f *Func) Preds(i int) []int {
	return f.preds[i]
}

// Succs returns the successors of the block with the given index. The returned
// slice must not be modified.
func (f *Func) Succs(i int) []int {
	return f.succs[i]
}

// Reachable reports whether the block with the given index is reachable from
// the entry block.
func (f *Func) Reachable(i int) bool {
	return f.reachable.Has(i)
}

// namesOf returns the names of the blocks in s, in block order.
func (f *Func) namesOf(s *intsets.Sparse) []string {
	var names []string
	for _, i := range s.AppendTo(nil) {
		names = append(names, f.names[i])
	}
	return names
}

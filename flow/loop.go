package flow

import (
	"github.com/pkg/errors"
	"golang.org/x/tools/container/intsets"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/iterator"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"
)

// A Loop is the natural loop of a back edge; the header, the tail and every
// block which can reach the tail without passing through the header.
type Loop struct {
	// Back edge inducing the loop.
	BackEdge
	// Blocks of the loop, in block order.
	Blocks []string
}

// Has reports whether the named block is part of the loop.
func (l *Loop) Has(name string) bool {
	for _, b := range l.Blocks {
		if b == name {
			return true
		}
	}
	return false
}

// NaturalLoops returns the natural loop of each of the given back edges, in the
// same order.
//
// Natural loops are computed independently for each back edge; loops of
// different back edges may overlap or nest.
func NaturalLoops(f *Func, edges []BackEdge) ([]*Loop, error) {
	loops := make([]*Loop, 0, len(edges))
	for _, e := range edges {
		l, err := NaturalLoop(f, e)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		loops = append(loops, l)
	}
	return loops, nil
}

// NaturalLoop returns the natural loop of the given back edge.
//
// The loop consists of the header, the tail, and every block reachable from
// the entry block which reaches the tail along control flow edges without
// passing through the header. The search walks edges in reverse from the tail
// and never continues past the header, so a self-loop consists of the header
// alone.
func NaturalLoop(f *Func, e BackEdge) (*Loop, error) {
	tail, ok := f.index[e.Tail]
	if !ok {
		return nil, errors.Errorf("unable to locate tail block %q of back edge %v", e.Tail, e)
	}
	head, ok := f.index[e.Head]
	if !ok {
		return nil, errors.Errorf("unable to locate head block %q of back edge %v", e.Head, e)
	}
	var members intsets.Sparse
	members.Insert(head)
	df := &traverse.DepthFirst{
		Visit: func(n graph.Node) {
			members.Insert(f.ids[n.ID()])
		},
		Traverse: func(e graph.Edge) bool {
			// e leads from a loop block to one of its predecessors.
			from, to := f.ids[e.From().ID()], f.ids[e.To().ID()]
			return from != head && f.Reachable(to)
		},
	}
	df.Walk(reverse{f}, f.nodes[tail], nil)
	return &Loop{
		BackEdge: e,
		Blocks:   f.namesOf(&members),
	}, nil
}

// reverse is a view of a function with every edge reversed, as required by
// traverse.Graph.
type reverse struct {
	f *Func
}

// From returns the predecessors of the node with the given ID.
func (r reverse) From(id int64) graph.Nodes {
	i, ok := r.f.ids[id]
	if !ok || len(r.f.preds[i]) == 0 {
		return graph.Empty
	}
	nodes := make([]graph.Node, len(r.f.preds[i]))
	for j, p := range r.f.preds[i] {
		nodes[j] = r.f.nodes[p]
	}
	return iterator.NewOrderedNodes(nodes)
}

// Edge returns the reversed edge from the node with ID uid to its predecessor
// with ID vid.
func (r reverse) Edge(uid, vid int64) graph.Edge {
	u, ok := r.f.ids[uid]
	if !ok {
		return nil
	}
	v, ok := r.f.ids[vid]
	if !ok {
		return nil
	}
	return simple.Edge{F: r.f.nodes[u], T: r.f.nodes[v]}
}

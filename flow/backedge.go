package flow

import "fmt"

// A BackEdge is a control flow edge from Tail to Head, where Head dominates
// Tail.
type BackEdge struct {
	// Source block of the edge.
	Tail string
	// Destination block of the edge; the loop header.
	Head string
}

// String returns the string representation of the back edge.
func (e BackEdge) String() string {
	return fmt.Sprintf("%s -> %s", e.Tail, e.Head)
}

// BackEdges returns the back edges of the function of the given dominator
// sets, ordered by tail and then head in block order.
//
// An edge from a block to itself is a back edge. Edges leaving blocks
// unreachable from the entry block are never back edges.
func BackEdges(dom *DomSets) []BackEdge {
	f := dom.f
	var edges []BackEdge
	for tail := 0; tail < f.Len(); tail++ {
		if !f.Reachable(tail) {
			continue
		}
		// Successors are distinct and in block order; each real edge is
		// considered once.
		for _, head := range f.succs[tail] {
			if dom.dominates(head, tail) {
				edges = append(edges, BackEdge{Tail: f.names[tail], Head: f.names[head]})
			}
		}
	}
	return edges
}

package cfg

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph"
)

// Merge returns a new control flow graph where the specified nodes have been
// collapsed into a single node with the given node name, and the predecessors
// and successors of the specified nodes.
//
// Edges between the specified nodes are dropped. The merged node becomes the
// entry node if any of the specified nodes was the entry node.
func Merge(src *Graph, delNodes map[string]bool, newName string) (*Graph, error) {
	for delName := range delNodes {
		if _, ok := src.nodes[delName]; !ok {
			return nil, errors.Errorf("unable to locate node with name %q", delName)
		}
	}
	if _, ok := src.nodes[newName]; ok && !delNodes[newName] {
		return nil, errors.Errorf("node name %q already present in graph", newName)
	}
	dst := NewGraph()
	Copy(dst, src)
	var preds, succs []graph.Node
	seenPred := make(map[int64]bool)
	seenSucc := make(map[int64]bool)
	entry := false
	// Visit nodes in block order to keep the resulting graph deterministic.
	var dels []*Node
	for _, n := range dst.order {
		if delNodes[n.name] {
			dels = append(dels, n)
		}
	}
	for _, delNode := range dels {
		// Record predecessors not part of nodes.
		for it := dst.To(delNode.id); it.Next(); {
			p := node(it.Node())
			if !delNodes[p.name] && !seenPred[p.id] {
				seenPred[p.id] = true
				preds = append(preds, p)
			}
		}
		// Record successors not part of nodes.
		for it := dst.From(delNode.id); it.Next(); {
			s := node(it.Node())
			if !delNodes[s.name] && !seenSucc[s.id] {
				seenSucc[s.id] = true
				succs = append(succs, s)
			}
		}
		if delNode.entry {
			entry = true
		}
		dst.RemoveNode(delNode.id)
	}
	newNode := dst.NewNodeWithName(newName)
	newNode.entry = entry
	dst.AddNode(newNode)
	// Add edges from predecessors to new node.
	for _, pred := range preds {
		dst.SetEdge(dst.NewEdge(pred, newNode))
	}
	// Add edges from new node to successors.
	for _, succ := range succs {
		dst.SetEdge(dst.NewEdge(newNode, succ))
	}
	return dst, nil
}

// Copy copies the nodes and edges of src into dst, retaining node IDs, names,
// entry node and DOT attributes. The nodes and edges of dst are distinct from
// those of src.
func Copy(dst, src *Graph) {
	dst.id = src.id
	for _, n := range src.order {
		nn := &Node{
			id:    n.id,
			name:  n.name,
			entry: n.entry,
			Attrs: make(Attrs),
		}
		for key, val := range n.Attrs {
			nn.Attrs[key] = val
		}
		dst.AddNode(nn)
	}
	for _, n := range src.order {
		for it := src.From(n.id); it.Next(); {
			e := src.from[n.id][it.Node().ID()]
			ee := &Edge{
				from:  dst.ids[e.from.ID()],
				to:    dst.ids[e.to.ID()],
				label: e.label,
				Attrs: make(Attrs),
			}
			for key, val := range e.Attrs {
				ee.Attrs[key] = val
			}
			dst.SetEdge(ee)
		}
	}
}

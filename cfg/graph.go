// Package cfg provides access to control flow graphs.
package cfg

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/iterator"
)

// === [ Graph ] ===============================================================

// Graph is a control flow graph.
//
// Unlike the graphs of gonum's simple package, a control flow graph permits
// self edges; a basic block branching to itself is a loop.
type Graph struct {
	// Graph ID.
	id string
	// Entry node of the control flow graph.
	entry *Node
	// nodes maps from node name to graph node.
	nodes map[string]*Node
	// ids maps from node ID to graph node.
	ids map[int64]*Node
	// order records the nodes of the graph in block order; that is, ordered by
	// node ID.
	order []*Node
	// from and to map from node ID to outgoing and incoming edges
	// respectively.
	from map[int64]map[int64]*Edge
	to   map[int64]map[int64]*Edge
	// next node ID.
	next int64
}

// NewGraph returns a new control flow graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		ids:   make(map[int64]*Node),
		from:  make(map[int64]map[int64]*Edge),
		to:    make(map[int64]map[int64]*Edge),
	}
}

// Entry returns the entry node of the control flow graph, or nil if no entry
// node has been set.
func (g *Graph) Entry() graph.Node {
	if g.entry == nil {
		return nil
	}
	return g.entry
}

// SetEntry marks the given node as the entry node of the control flow graph.
func (g *Graph) SetEntry(n *Node) {
	if g.entry != nil {
		g.entry.entry = false
	}
	n.entry = true
	g.entry = n
}

// Blocks returns the nodes of the graph in block order.
func (g *Graph) Blocks() []*Node {
	blocks := make([]*Node, len(g.order))
	copy(blocks, g.order)
	return blocks
}

// NewNodeWithName returns a new node with the given name.
func (g *Graph) NewNodeWithName(name string) *Node {
	if len(name) == 0 {
		panic("empty node name")
	}
	nn := node(g.NewNode())
	nn.name = name
	return nn
}

// AddBlock adds a new node with the given name to the graph.
func (g *Graph) AddBlock(name string) (*Node, error) {
	if len(name) == 0 {
		return nil, errors.New("empty basic block name")
	}
	if _, ok := g.nodes[name]; ok {
		return nil, errors.Errorf("basic block name %q already present in graph", name)
	}
	n := g.NewNodeWithName(name)
	g.AddNode(n)
	return n, nil
}

// NodeWithName returns the node with the given name, and a boolean variable
// indicating success.
func (g *Graph) NodeWithName(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// NameBlocks assigns the name "BB<i>" to every unnamed node of the graph,
// where i is the index of the node in block order.
//
// The graph is left unchanged if any assigned name is already present in the
// graph.
func (g *Graph) NameBlocks() error {
	names := make(map[*Node]string)
	for i, n := range g.order {
		if len(n.name) > 0 {
			continue
		}
		name := fmt.Sprintf("BB%d", i)
		if _, ok := g.nodes[name]; ok {
			return errors.Errorf("basic block name %q already present in graph", name)
		}
		names[n] = name
	}
	for n, name := range names {
		n.name = name
		g.nodes[name] = n
	}
	return nil
}

// --- [ dot.Graph ] -----------------------------------------------------------

// DOTID returns the DOT ID of the graph.
func (g *Graph) DOTID() string {
	return g.id
}

// --- [ dot.DOTIDSetter ] -----------------------------------------------------

// SetDOTID sets the DOT ID of the graph.
func (g *Graph) SetDOTID(id string) {
	g.id = id
}

// --- [ graph.Directed ] ------------------------------------------------------

// Node returns the node with the given ID if it exists in the graph, and nil
// otherwise.
func (g *Graph) Node(id int64) graph.Node {
	n, ok := g.ids[id]
	if !ok {
		return nil
	}
	return n
}

// Nodes returns all the nodes in the graph, in block order.
func (g *Graph) Nodes() graph.Nodes {
	if len(g.order) == 0 {
		return graph.Empty
	}
	nodes := make([]graph.Node, len(g.order))
	for i, n := range g.order {
		nodes[i] = n
	}
	return iterator.NewOrderedNodes(nodes)
}

// From returns all nodes that can be reached directly from the node with the
// given ID.
func (g *Graph) From(id int64) graph.Nodes {
	return g.adjacent(g.from[id])
}

// To returns all nodes that can reach directly to the node with the given ID.
func (g *Graph) To(id int64) graph.Nodes {
	return g.adjacent(g.to[id])
}

// adjacent returns the nodes at the far end of the given edges, ordered by
// node ID.
func (g *Graph) adjacent(edges map[int64]*Edge) graph.Nodes {
	if len(edges) == 0 {
		return graph.Empty
	}
	ids := make([]int64, 0, len(edges))
	for id := range edges {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	nodes := make([]graph.Node, len(ids))
	for i, id := range ids {
		nodes[i] = g.ids[id]
	}
	return iterator.NewOrderedNodes(nodes)
}

// HasEdgeBetween returns whether an edge exists between nodes with IDs xid and
// yid without considering direction.
func (g *Graph) HasEdgeBetween(xid, yid int64) bool {
	return g.HasEdgeFromTo(xid, yid) || g.HasEdgeFromTo(yid, xid)
}

// HasEdgeFromTo returns whether an edge exists in the graph from u to v.
func (g *Graph) HasEdgeFromTo(uid, vid int64) bool {
	_, ok := g.from[uid][vid]
	return ok
}

// Edge returns the edge from u to v if such an edge exists and nil otherwise.
func (g *Graph) Edge(uid, vid int64) graph.Edge {
	e, ok := g.from[uid][vid]
	if !ok {
		return nil
	}
	return e
}

// --- [ graph.NodeAdder ] -----------------------------------------------------

// NewNode returns a new node with a unique arbitrary ID.
func (g *Graph) NewNode() graph.Node {
	id := g.next
	g.next++
	return &Node{
		id:    id,
		Attrs: make(Attrs),
	}
}

// AddNode adds a node to the graph.
//
// If the added node ID matches an existing node ID, AddNode will panic.
func (g *Graph) AddNode(n graph.Node) {
	nn := node(n)
	if _, ok := g.ids[nn.id]; ok {
		panic(fmt.Errorf("node ID %d already present in graph", nn.id))
	}
	if nn.entry {
		if g.entry != nil && nn != g.entry {
			panic(fmt.Errorf("entry node already set in graph; prev entry node %#v, new entry node %#v", g.entry, nn))
		}
		g.entry = nn
	}
	if len(nn.name) > 0 {
		if prev, ok := g.nodes[nn.name]; ok && nn != prev {
			panic(fmt.Errorf("node name %q already present in graph; prev node %#v, new node %#v", nn.name, prev, nn))
		}
		g.nodes[nn.name] = nn
	}
	if nn.id >= g.next {
		g.next = nn.id + 1
	}
	nn.g = g
	g.ids[nn.id] = nn
	g.order = append(g.order, nn)
	// Block order follows node IDs.
	if last := len(g.order) - 1; last > 0 && g.order[last-1].id > nn.id {
		sort.Slice(g.order, func(i, j int) bool { return g.order[i].id < g.order[j].id })
	}
}

// --- [ graph.NodeRemover ] ---------------------------------------------------

// RemoveNode removes the node with the given ID from the graph, as well as any
// edges attached to it. If the node is not in the graph it is a no-op.
func (g *Graph) RemoveNode(id int64) {
	nn, ok := g.ids[id]
	if !ok {
		return
	}
	for to := range g.from[id] {
		delete(g.to[to], id)
	}
	for from := range g.to[id] {
		delete(g.from[from], id)
	}
	delete(g.from, id)
	delete(g.to, id)
	delete(g.ids, id)
	if g.nodes[nn.name] == nn {
		delete(g.nodes, nn.name)
	}
	if g.entry == nn {
		g.entry = nil
	}
	for i, n := range g.order {
		if n == nn {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	nn.g = nil
}

// --- [ graph.EdgeAdder ] -----------------------------------------------------

// NewEdge returns a new edge from the source to the destination node.
func (g *Graph) NewEdge(from, to graph.Node) graph.Edge {
	return &Edge{
		from:  from,
		to:    to,
		Attrs: make(Attrs),
	}
}

// SetEdge adds an edge from one node to another.
//
// The nodes will be added if they do not exist. Self edges are permitted.
func (g *Graph) SetEdge(e graph.Edge) {
	ee, ok := e.(*Edge)
	if !ok {
		panic(fmt.Errorf("invalid edge type; expected *cfg.Edge, got %T", e))
	}
	// Add nodes if not yet present in graph.
	from, to := ee.From(), ee.To()
	if g.Node(from.ID()) == nil {
		g.AddNode(from)
	}
	if g.Node(to.ID()) == nil {
		g.AddNode(to)
	}
	// Add edge.
	fid, tid := from.ID(), to.ID()
	if g.from[fid] == nil {
		g.from[fid] = make(map[int64]*Edge)
	}
	if g.to[tid] == nil {
		g.to[tid] = make(map[int64]*Edge)
	}
	g.from[fid][tid] = ee
	g.to[tid][fid] = ee
}

// === [ Node ] ================================================================

// Node is a node in a control flow graph.
type Node struct {
	// Node ID.
	id int64
	// Node name (e.g. basic block label).
	name string
	// entry specifies whether the node is the entry node of the control flow
	// graph.
	entry bool
	// Graph containing the node; nil until the node is added.
	g *Graph
	// DOT attributes.
	Attrs
}

// ID returns the ID of the node.
func (n *Node) ID() int64 {
	return n.id
}

// Name returns the name of the node.
func (n *Node) Name() string {
	return n.name
}

// String returns the name of the node.
func (n *Node) String() string {
	return n.name
}

// --- [ dot.Node ] ------------------------------------------------------------

// DOTID returns the DOT ID of the node.
func (n *Node) DOTID() string {
	return n.name
}

// --- [ dot.DOTIDSetter ] -----------------------------------------------------

// SetDOTID sets the DOT ID of the node.
//
// The name lookup of the containing graph is kept up to date; renaming a node
// to a name already present in the graph panics.
func (n *Node) SetDOTID(id string) {
	if n.g != nil {
		if prev, ok := n.g.nodes[id]; ok && prev != n {
			panic(fmt.Errorf("node name %q already present in graph", id))
		}
		if n.g.nodes[n.name] == n {
			delete(n.g.nodes, n.name)
		}
		n.g.nodes[id] = n
	}
	n.name = id
}

// --- [ encoding.Attributer ] -------------------------------------------------

// Attributes returns the DOT attributes of the node.
func (n *Node) Attributes() []encoding.Attribute {
	if n.entry {
		if prev, ok := n.Attrs["label"]; ok && prev != "entry" {
			panic(fmt.Errorf(`invalid DOT label of entry node; expected "entry", got %q`, prev))
		}
		n.Attrs["label"] = "entry"
	} else if n.Attrs["label"] == "entry" {
		delete(n.Attrs, "label")
	}
	return n.Attrs.Attributes()
}

// --- [ encoding.AttributeSetter ] -------------------------------------------

// SetAttribute sets the DOT attribute of the node.
func (n *Node) SetAttribute(attr encoding.Attribute) error {
	if attr.Key == "label" && attr.Value == "entry" {
		if prev, ok := n.Attrs["label"]; ok && prev != "entry" {
			return errors.Errorf(`invalid DOT label of entry node; expected "entry", got %q`, prev)
		}
		n.entry = true
	} else {
		if attr.Key == "label" && n.entry {
			return errors.Errorf(`invalid DOT label of entry node; expected "entry", got %q`, attr.Value)
		}
		n.Attrs[attr.Key] = attr.Value
	}
	return nil
}

// === [ Edge ] ================================================================

// Edge is an edge in a control flow graph.
type Edge struct {
	// Source and destination nodes.
	from, to graph.Node
	// Edge label.
	label string
	// DOT attributes.
	Attrs
}

// From returns the source node of the edge.
func (e *Edge) From() graph.Node {
	return e.from
}

// To returns the destination node of the edge.
func (e *Edge) To() graph.Node {
	return e.to
}

// ReversedEdge returns a new edge with the end points of e swapped.
func (e *Edge) ReversedEdge() graph.Edge {
	rev := &Edge{
		from:  e.to,
		to:    e.from,
		label: e.label,
		Attrs: make(Attrs),
	}
	for key, val := range e.Attrs {
		rev.Attrs[key] = val
	}
	return rev
}

// --- [ encoding.Attributer ] -------------------------------------------------

// Attributes returns the DOT attributes of the edge.
func (e *Edge) Attributes() []encoding.Attribute {
	if len(e.label) > 0 {
		if prev, ok := e.Attrs["label"]; ok && prev != e.label {
			panic(fmt.Errorf(`mismatch of edge DOT label; expected %q, got %q`, e.label, prev))
		}
		e.Attrs["label"] = e.label
	}
	return e.Attrs.Attributes()
}

// --- [ encoding.AttributeSetter ] -------------------------------------------

// SetAttribute sets the DOT attribute of the edge.
func (e *Edge) SetAttribute(attr encoding.Attribute) error {
	if attr.Key == "label" {
		e.label = attr.Value
	}
	e.Attrs[attr.Key] = attr.Value
	return nil
}

// ### [ Helper functions ] ####################################################

// Attrs specifies a set of DOT attributes as key-value pairs.
type Attrs map[string]string

// --- [ encoding.Attributer ] -------------------------------------------------

// Attributes returns the DOT attributes of a node or edge.
func (a Attrs) Attributes() []encoding.Attribute {
	var keys []string
	for key := range a {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var attrs []encoding.Attribute
	for _, key := range keys {
		attr := encoding.Attribute{
			Key:   key,
			Value: a[key],
		}
		attrs = append(attrs, attr)
	}
	return attrs
}

// node asserts that the given node is a control flow graph node.
func node(n graph.Node) *Node {
	if n, ok := n.(*Node); ok {
		return n
	}
	panic(fmt.Errorf("invalid node type; expected *cfg.Node, got %T", n))
}

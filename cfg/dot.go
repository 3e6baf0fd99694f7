package cfg

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph/encoding/dot"
)

// Parse decodes a control flow graph in Graphviz DOT format from r.
func Parse(r io.Reader) (*Graph, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ParseBytes(buf)
}

// ParseFile decodes the control flow graph of the given Graphviz DOT file.
func ParseFile(path string) (*Graph, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	g, err := ParseBytes(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse %q", path)
	}
	return g, nil
}

// ParseString decodes a control flow graph in Graphviz DOT format from s.
func ParseString(s string) (*Graph, error) {
	return ParseBytes([]byte(s))
}

// ParseBytes decodes a control flow graph in Graphviz DOT format from b.
//
// The entry node is the node with the DOT label attribute "entry". A graph
// without such node has no entry node; a graph with several is rejected.
func ParseBytes(b []byte) (*Graph, error) {
	g := NewGraph()
	if err := dot.Unmarshal(b, g); err != nil {
		return nil, errors.WithStack(err)
	}
	// Attributes are decoded after a node is added, so the entry is located
	// once the whole graph is in place.
	g.entry = nil
	for _, n := range g.order {
		if !n.entry {
			continue
		}
		if g.entry != nil {
			return nil, errors.Errorf("entry node already set in graph; prev entry node %q, new entry node %q", g.entry.name, n.name)
		}
		g.entry = n
	}
	return g, nil
}

// Marshal encodes the graph in Graphviz DOT format.
func (g *Graph) Marshal() ([]byte, error) {
	buf, err := dot.Marshal(g, g.DOTID(), "", "\t")
	if err != nil {
		return nil, errors.Wrapf(err, "unable to marshal control flow graph %q", g.DOTID())
	}
	return buf, nil
}

// String returns the Graphviz DOT representation of the graph.
func (g *Graph) String() string {
	buf, err := g.Marshal()
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return string(buf)
}

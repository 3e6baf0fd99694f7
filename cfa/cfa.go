// Package cfa implements control flow analysis of functions; the dominator
// relation, back edges and natural loops of a control flow graph.
package cfa

import (
	"github.com/graphism/natloop/flow"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Analysis holds the control flow analysis results of a single function.
//
// An Analysis is immutable once returned; each call to Analyze allocates fresh
// results.
type Analysis struct {
	// Name of the function; the DOT ID of the control flow graph.
	Name string
	// Func is the index-addressed view of the control flow graph.
	Func *flow.Func
	// Dom holds the dominator sets of the blocks of the function.
	Dom *flow.DomSets
	// BackEdges holds the back edges of the function, ordered by tail and
	// then head in block order.
	BackEdges []flow.BackEdge
	// Loops holds the natural loop of each back edge, in the order of
	// BackEdges.
	Loops []*flow.Loop
	// loops maps from back edge to natural loop.
	loops map[flow.BackEdge]*flow.Loop
}

// Loop returns the natural loop of the given back edge, and a boolean variable
// indicating success.
func (a *Analysis) Loop(e flow.BackEdge) (*flow.Loop, bool) {
	l, ok := a.loops[e]
	return l, ok
}

// An Analyzer performs control flow analysis of functions.
type Analyzer struct {
	// Logger receives debug output of the analysis; nil disables logging.
	Logger *zap.Logger
}

// Analyze performs control flow analysis of the given control flow graph, with
// logging disabled.
func Analyze(g flow.Graph) (*Analysis, error) {
	return (&Analyzer{}).Analyze(g)
}

// Analyze performs control flow analysis of the given control flow graph.
//
// Either every stage completes, or an error is returned and no results are
// produced. Structural violations of the graph are reported as errors wrapping
// flow.ErrInvalidGraph.
func (an *Analyzer) Analyze(g flow.Graph) (*Analysis, error) {
	logger := an.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var name string
	if gg, ok := g.(interface{ DOTID() string }); ok {
		name = gg.DOTID()
	}
	logger = logger.With(zap.String("func", name))
	f, err := flow.NewFunc(g)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to analyze function %q", name)
	}
	dom := flow.Dominators(f)
	logger.Debug("dominators",
		zap.Int("blocks", f.Len()),
		zap.Int("passes", dom.Passes()),
	)
	edges := flow.BackEdges(dom)
	logger.Debug("back edges", zap.Stringers("edges", edges))
	loops, err := flow.NaturalLoops(f, edges)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to analyze function %q", name)
	}
	a := &Analysis{
		Name:      name,
		Func:      f,
		Dom:       dom,
		BackEdges: edges,
		Loops:     loops,
		loops:     make(map[flow.BackEdge]*flow.Loop, len(loops)),
	}
	for _, l := range loops {
		a.loops[l.BackEdge] = l
		logger.Debug("natural loop",
			zap.Stringer("edge", l.BackEdge),
			zap.Strings("blocks", l.Blocks),
		)
	}
	return a, nil
}

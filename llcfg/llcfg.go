// Package llcfg builds control flow graphs of LLVM IR functions.
package llcfg

import (
	"fmt"
	"strconv"

	"github.com/graphism/natloop/cfg"
	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"
	"github.com/pkg/errors"
)

// New returns the control flow graph of the given LLVM IR function. The entry
// node is the first basic block of the function.
//
// Each node carries the static statement count of its basic block as the DOT
// attribute "stmts".
//
// Unnamed basic blocks are named "BB<i>", where i is the index of the block in
// the function; the name is assigned to the block of the function, so that
// later passes may address blocks by name.
func New(f *ir.Func) (*cfg.Graph, error) {
	if len(f.Blocks) == 0 {
		return nil, errors.Errorf("unable to create control flow graph of function %q; function declaration without body", f.Name())
	}
	for i, block := range f.Blocks {
		if block.IsUnnamed() {
			block.SetName(fmt.Sprintf("BB%d", i))
		}
	}
	g := cfg.NewGraph()
	g.SetDOTID(f.Name())
	nodes := make(map[*ir.Block]*cfg.Node)
	for _, block := range f.Blocks {
		n, err := g.AddBlock(block.Name())
		if err != nil {
			return nil, errors.Wrapf(err, "unable to create control flow graph of function %q", f.Name())
		}
		n.Attrs["stmts"] = strconv.Itoa(Stmts(block))
		nodes[block] = n
	}
	g.SetEntry(nodes[f.Blocks[0]])
	for _, block := range f.Blocks {
		if block.Term == nil {
			return nil, errors.Errorf("unable to create control flow graph of function %q; missing terminator in basic block %q", f.Name(), block.Name())
		}
		from := nodes[block]
		for _, succ := range block.Term.Succs() {
			to, ok := nodes[succ]
			if !ok {
				return nil, errors.Errorf("unable to create control flow graph of function %q; unable to locate successor %q of basic block %q", f.Name(), succ.Name(), block.Name())
			}
			g.SetEdge(g.NewEdge(from, to))
		}
	}
	return g, nil
}

// ParseFile parses the given LLVM IR assembly file and returns the control flow
// graphs of its function definitions, in order of appearance. Function
// declarations are skipped.
func ParseFile(path string) ([]*cfg.Graph, error) {
	m, err := asm.ParseFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return Graphs(m)
}

// Graphs returns the control flow graphs of the function definitions of the
// given module, in order of appearance.
func Graphs(m *ir.Module) ([]*cfg.Graph, error) {
	var gs []*cfg.Graph
	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 {
			continue
		}
		g, err := New(f)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		gs = append(gs, g)
	}
	return gs, nil
}

// Stmts returns the number of static statements of the given basic block; the
// terminator included, alloca and phi instructions excluded.
func Stmts(block *ir.Block) int {
	n := 0
	for _, inst := range block.Insts {
		switch inst.(type) {
		case *ir.InstAlloca, *ir.InstPhi:
			continue
		}
		n++
	}
	if block.Term != nil {
		n++
	}
	return n
}

// Package ssacfg builds control flow graphs of Go functions in SSA form.
package ssacfg

import (
	"fmt"
	"go/types"
	"sort"

	"github.com/graphism/natloop/cfg"
	"github.com/pkg/errors"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// New returns the control flow graph of the given SSA function. The entry node
// is the first basic block of the function.
//
// Basic blocks are named "BB<i>", where i is the index of the block within the
// function. The SSA comment of a block (e.g. "for.body") is kept as the DOT
// attribute "comment". The recover block of a function, if present, has no
// predecessors and is unreachable from the entry node.
func New(fn *ssa.Function) (*cfg.Graph, error) {
	if len(fn.Blocks) == 0 {
		return nil, errors.Errorf("unable to create control flow graph of function %q; function without body", fn.String())
	}
	g := cfg.NewGraph()
	g.SetDOTID(fn.String())
	nodes := make([]*cfg.Node, len(fn.Blocks))
	for _, block := range fn.Blocks {
		n, err := g.AddBlock(fmt.Sprintf("BB%d", block.Index))
		if err != nil {
			return nil, errors.Wrapf(err, "unable to create control flow graph of function %q", fn.String())
		}
		if len(block.Comment) > 0 {
			n.Attrs["comment"] = block.Comment
		}
		nodes[block.Index] = n
	}
	g.SetEntry(nodes[0])
	for _, block := range fn.Blocks {
		for _, succ := range block.Succs {
			g.SetEdge(g.NewEdge(nodes[block.Index], nodes[succ.Index]))
		}
	}
	return g, nil
}

// Load loads the Go packages matching the given patterns and returns the
// control flow graphs of the source functions of those packages, including
// methods and anonymous functions, sorted by function name.
func Load(patterns ...string) ([]*cfg.Graph, error) {
	conf := &packages.Config{
		Mode: packages.LoadAllSyntax,
	}
	pkgs, err := packages.Load(conf, patterns...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if n := packages.PrintErrors(pkgs); n > 0 {
		return nil, errors.Errorf("unable to load packages %q; %d errors", patterns, n)
	}
	prog, ssaPkgs := ssautil.Packages(pkgs, ssa.InstantiateGenerics)
	prog.Build()
	var fns []*ssa.Function
	for _, pkg := range ssaPkgs {
		if pkg == nil {
			continue
		}
		fns = append(fns, Funcs(prog, pkg)...)
	}
	var gs []*cfg.Graph
	for _, fn := range fns {
		if len(fn.Blocks) == 0 {
			continue
		}
		g, err := New(fn)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		gs = append(gs, g)
	}
	return gs, nil
}

// Funcs returns the source functions of the given package; its package-level
// functions, the methods of its named types and their anonymous functions,
// sorted by function name.
func Funcs(prog *ssa.Program, pkg *ssa.Package) []*ssa.Function {
	seen := make(map[*ssa.Function]bool)
	var fns []*ssa.Function
	var add func(fn *ssa.Function)
	add = func(fn *ssa.Function) {
		if fn == nil || seen[fn] || fn.Synthetic != "" {
			return
		}
		seen[fn] = true
		fns = append(fns, fn)
		for _, anon := range fn.AnonFuncs {
			add(anon)
		}
	}
	for _, mem := range pkg.Members {
		switch mem := mem.(type) {
		case *ssa.Function:
			add(mem)
		case *ssa.Type:
			if named, ok := mem.Type().(*types.Named); ok && named.TypeParams().Len() > 0 {
				continue
			}
			for _, T := range []types.Type{mem.Type(), types.NewPointer(mem.Type())} {
				mset := prog.MethodSets.MethodSet(T)
				for i := 0; i < mset.Len(); i++ {
					if fn := prog.MethodValue(mset.At(i)); fn != nil && fn.Pkg == pkg {
						add(fn)
					}
				}
			}
		}
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].String() < fns[j].String() })
	return fns
}

package cfa

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Dump writes a textual report of the analysis to w; the number of loops, the
// dominance relation as "dominator -> dominatee" pairs, the back edges and the
// blocks of each natural loop.
func (a *Analysis) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	f := a.Func
	fmt.Fprintf(bw, "Function: %s\n", a.Name)
	fmt.Fprintf(bw, "Number of Loops: %d\n", len(a.Loops))
	fmt.Fprintln(bw, "Dominance Relation:")
	for i := 0; i < f.Len(); i++ {
		name := f.Name(i)
		if !f.Reachable(i) {
			fmt.Fprintf(bw, "\t%s: unreachable\n", name)
			continue
		}
		doms, _ := a.Dom.Dominators(name)
		for _, dom := range doms {
			fmt.Fprintf(bw, "\t%s -> %s\n", dom, name)
		}
	}
	fmt.Fprintln(bw, "Back Edges:")
	for _, e := range a.BackEdges {
		fmt.Fprintf(bw, "\t%v\n", e)
	}
	fmt.Fprintln(bw, "Natural Loops:")
	for _, l := range a.Loops {
		fmt.Fprintf(bw, "\t%v: %s\n", l.BackEdge, strings.Join(l.Blocks, ", "))
	}
	if err := bw.Flush(); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

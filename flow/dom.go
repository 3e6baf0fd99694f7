// ref: Aho, Alfred V., Ravi Sethi, and Jeffrey D. Ullman. "Compilers:
// Principles, Techniques, and Tools." Addison-Wesley (1986), section 10.4,
// "Loops in flow graphs".

// Package flow implements dominator, back edge and natural loop analysis of
// control flow graphs.
package flow

import (
	"golang.org/x/tools/container/intsets"
)

// DomSets records, for every block of a function, the set of blocks which
// dominate it.
//
// Blocks unreachable from the entry block are dominated by every block of the
// function; the dominance relation is undefined for them and they take no
// part in back edges or natural loops.
type DomSets struct {
	// Function of the dominator sets.
	f *Func
	// sets holds the dominator set of each block.
	sets []*intsets.Sparse
	// passes records the number of full passes until a fixed point was
	// reached.
	passes int
}

// Dominators computes the dominator set of every block of the given function.
//
// The dominator set of the entry block is the entry block itself, and the
// dominator set of any other block B is initially the set of all blocks. Full
// passes in block order replace dom(B) with
//
//	{B} ∪ ⋂ dom(P) for every predecessor P of B
//
// until a pass produces no change. Edges into the entry block are ignored, and
// blocks other than the entry block without predecessors keep their initial
// set.
func Dominators(f *Func) *DomSets {
	n := f.Len()
	all := &intsets.Sparse{}
	for i := 0; i < n; i++ {
		all.Insert(i)
	}
	d := &DomSets{
		f:    f,
		sets: make([]*intsets.Sparse, n),
	}
	for i := range d.sets {
		d.sets[i] = &intsets.Sparse{}
		if i == f.entry {
			d.sets[i].Insert(i)
			continue
		}
		d.sets[i].Copy(all)
	}
	var tmp intsets.Sparse
	for changed := true; changed; {
		changed = false
		d.passes++
		// Complete the full pass before checking for convergence.
		for b := 0; b < n; b++ {
			if b == f.entry {
				continue
			}
			preds := f.preds[b]
			if len(preds) == 0 {
				continue
			}
			tmp.Copy(d.sets[preds[0]])
			for _, p := range preds[1:] {
				tmp.IntersectionWith(d.sets[p])
			}
			tmp.Insert(b)
			if !tmp.Equals(d.sets[b]) {
				d.sets[b].Copy(&tmp)
				changed = true
			}
		}
	}
	return d
}

// Func returns the function of the dominator sets.
func (d *DomSets) Func() *Func {
	return d.f
}

// Passes returns the number of full passes over the blocks of the function
// until the dominator sets reached a fixed point, including the final pass
// which produced no change.
func (d *DomSets) Passes() int {
	return d.passes
}

// Dominators returns the names of the blocks which dominate the named block, in
// block order, and a boolean variable indicating whether the block exists.
func (d *DomSets) Dominators(name string) ([]string, bool) {
	b, ok := d.f.index[name]
	if !ok {
		return nil, false
	}
	return d.f.namesOf(d.sets[b]), true
}

// Dominates reports whether block dom dominates block b.
func (d *DomSets) Dominates(dom, b string) bool {
	i, ok := d.f.index[dom]
	if !ok {
		return false
	}
	j, ok := d.f.index[b]
	if !ok {
		return false
	}
	return d.dominates(i, j)
}

// dominates reports whether the block with index dom dominates the block with
// index b.
func (d *DomSets) dominates(dom, b int) bool {
	return d.sets[b].Has(dom)
}

// Reachable reports whether the named block is reachable from the entry block.
func (d *DomSets) Reachable(name string) bool {
	i, ok := d.f.index[name]
	return ok && d.f.Reachable(i)
}

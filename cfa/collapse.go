package cfa

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/graphism/natloop/cfg"
	"github.com/pkg/errors"
)

// Collapse returns a new control flow graph where each outermost natural loop
// of g has been merged into a single node named "loop_<header>".
//
// Loops sharing a header are merged together. Larger loops are merged first,
// and a loop with any block already merged is left as is. The results of a
// are expected to stem from the analysis of g.
func Collapse(g *cfg.Graph, a *Analysis) (*cfg.Graph, error) {
	type group struct {
		head   string
		index  int
		blocks map[string]bool
	}
	var groups []*group
	byHead := make(map[string]*group)
	for _, l := range a.Loops {
		grp, ok := byHead[l.Head]
		if !ok {
			index, _ := a.Func.Index(l.Head)
			grp = &group{head: l.Head, index: index, blocks: make(map[string]bool)}
			byHead[l.Head] = grp
			groups = append(groups, grp)
		}
		for _, b := range l.Blocks {
			grp.blocks[b] = true
		}
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if len(groups[i].blocks) != len(groups[j].blocks) {
			return len(groups[i].blocks) > len(groups[j].blocks)
		}
		return groups[i].index < groups[j].index
	})
	dst := cfg.NewGraph()
	cfg.Copy(dst, g)
	merged := make(map[string]bool)
loop:
	for _, grp := range groups {
		for b := range grp.blocks {
			if merged[b] {
				continue loop
			}
		}
		name := "loop_" + grp.head
		out, err := cfg.Merge(dst, grp.blocks, name)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to collapse loop with header %q", grp.head)
		}
		n, _ := out.NodeWithName(name)
		n.Attrs["shape"] = "box"
		for b := range grp.blocks {
			merged[b] = true
		}
		dst = out
	}
	return dst, nil
}

// WriteDOT writes the given control flow graph in Graphviz DOT format to the
// file "<graph ID>.dot" of the given directory, creating the directory if
// needed.
func WriteDOT(dir string, g *cfg.Graph) error {
	name := g.DOTID()
	if len(name) == 0 {
		return errors.New("missing name of control flow graph")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.WithStack(err)
	}
	name = strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(name)
	buf, err := g.Marshal()
	if err != nil {
		return errors.WithStack(err)
	}
	path := filepath.Join(dir, name+".dot")
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Command loopinfo reports the dominator relation, back edges and natural
// loops of the functions of LLVM IR files, Graphviz DOT files and Go packages.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/graphism/natloop/cfa"
	"github.com/graphism/natloop/cfg"
	"github.com/graphism/natloop/llcfg"
	"github.com/graphism/natloop/ssacfg"
	"github.com/mewkiz/pkg/pathutil"
	"github.com/mewkiz/pkg/term"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// dbg is a logger with the "loopinfo:" prefix which logs to standard error.
var dbg = log.New(os.Stderr, term.MagentaBold("loopinfo:")+" ", 0)

const usage = `loopinfo reports the dominator relation, back edges and natural loops of
functions.

Usage:

  loopinfo [options] FILE.ll|FILE.dot|PACKAGE...

LLVM IR files (*.ll) and Graphviz DOT files (*.dot, *.gv) are read directly;
any other argument is loaded as a Go package pattern. The entry node of a DOT
file is the node with the attribute label=entry.

Options:

`

// funcsFlag is a repeatable flag of function names.
type funcsFlag []string

func (f *funcsFlag) String() string {
	return strings.Join(*f, ",")
}

func (f *funcsFlag) Set(s string) error {
	*f = append(*f, s)
	return nil
}

func main() {
	var (
		// confPath specifies the YAML configuration file.
		confPath string
		// flags holds options specified on the command line.
		flags Config
		funcs funcsFlag
	)
	flag.StringVar(&confPath, "config", "", "YAML configuration file")
	flag.StringVar(&flags.DOTDir, "dot", "", "output directory of DOT graphs with natural loops collapsed")
	flag.Var(&funcs, "f", "only analyze the named function (repeatable)")
	flag.IntVar(&flags.Jobs, "j", 0, "number of functions analyzed concurrently (default GOMAXPROCS)")
	flag.BoolVar(&flags.Verbose, "v", false, "enable debug logging")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}
	flags.Funcs = funcs
	conf, err := loadConfig(confPath)
	if err != nil {
		dbg.Fatalf("%+v", err)
	}
	// Options specified on the command line take precedence.
	flag.Visit(func(f *flag.Flag) {
		conf.override(f.Name, &flags)
	})
	logger, err := newLogger(conf.Verbose)
	if err != nil {
		dbg.Fatalf("%+v", err)
	}
	defer logger.Sync()
	z := &cfa.Analyzer{Logger: logger}
	for _, path := range flag.Args() {
		if err := loopInfo(os.Stdout, z, conf, path); err != nil {
			dbg.Fatalf("%+v", err)
		}
	}
}

// loopInfo analyzes the functions of the given LLVM IR file, DOT file or Go
// package pattern, and writes a report to w.
func loopInfo(w io.Writer, z *cfa.Analyzer, conf *Config, path string) error {
	header := color.New(color.Bold)
	header.Fprintf(w, "\n=== [ %s ] ===\n\n", path)
	gs, err := parseGraphs(path)
	if err != nil {
		return errors.WithStack(err)
	}
	gs = conf.filter(gs)
	// Each function is analyzed independently; reports are written in input
	// order.
	as := make([]*cfa.Analysis, len(gs))
	var eg errgroup.Group
	eg.SetLimit(conf.Jobs)
	for i, g := range gs {
		i, g := i, g
		eg.Go(func() error {
			a, err := z.Analyze(g)
			if err != nil {
				return errors.WithStack(err)
			}
			as[i] = a
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	for i, a := range as {
		if err := a.Dump(w); err != nil {
			return errors.WithStack(err)
		}
		fmt.Fprintln(w)
		if len(conf.DOTDir) == 0 {
			continue
		}
		if err := dumpDOT(conf.DOTDir, gs[i], a); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// parseGraphs returns the control flow graphs of the functions of the given
// LLVM IR file, DOT file or Go package pattern.
func parseGraphs(path string) ([]*cfg.Graph, error) {
	switch filepath.Ext(path) {
	case ".ll":
		return llcfg.ParseFile(path)
	case ".dot", ".gv":
		g, err := cfg.ParseFile(path)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if len(g.DOTID()) == 0 {
			g.SetDOTID(pathutil.TrimExt(filepath.Base(path)))
		}
		return []*cfg.Graph{g}, nil
	default:
		return ssacfg.Load(path)
	}
}

// dumpDOT writes the control flow graph of a function, and the same graph with
// its natural loops collapsed, to the given directory.
func dumpDOT(dir string, g *cfg.Graph, a *cfa.Analysis) error {
	if err := cfa.WriteDOT(dir, g); err != nil {
		return errors.WithStack(err)
	}
	loops, err := cfa.Collapse(g, a)
	if err != nil {
		return errors.WithStack(err)
	}
	loops.SetDOTID(g.DOTID() + "_loops")
	if err := cfa.WriteDOT(dir, loops); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// newLogger returns a new logger; debug output is enabled in verbose mode.
func newLogger(verbose bool) (*zap.Logger, error) {
	var zconf zap.Config
	if verbose {
		zconf = zap.NewDevelopmentConfig()
	} else {
		zconf = zap.NewProductionConfig()
	}
	l, err := zconf.Build()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return l, nil
}
